package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/iliyamo/rail-ticketing/internal/model"
)

// TrainRepo stores route descriptors.
type TrainRepo struct{ db *sqlx.DB }

func NewTrainRepo(db *sqlx.DB) *TrainRepo { return &TrainRepo{db: db} }

// Create inserts a train and fills in its generated ID.  A reused train
// number yields ErrDuplicate.
func (r *TrainRepo) Create(ctx context.Context, t *model.Train) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO trains (name, number, origin, destination, departs_at, arrives_at, total_seats)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.Number, t.Origin, t.Destination, t.DepartsAt, t.ArrivesAt, t.TotalSeats)
	if err != nil {
		if isDuplicate(err) {
			return ErrDuplicate
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	t.ID = uint64(id)
	return nil
}

// Get fetches a train by id.
func (r *TrainRepo) Get(ctx context.Context, id uint64) (model.Train, error) {
	var t model.Train
	err := r.db.GetContext(ctx, &t,
		`SELECT id, name, number, origin, destination, departs_at, arrives_at, total_seats, created_at, updated_at
		 FROM trains WHERE id = ? LIMIT 1`, id)
	return t, notFound(err)
}
