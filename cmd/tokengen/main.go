// Command tokengen mints an access token for a user and role, for
// operators and local testing.  Users are managed outside this service.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/rail-ticketing/internal/middleware"
	"github.com/iliyamo/rail-ticketing/internal/utils"
)

func main() {
	_ = godotenv.Load()
	var (
		userID = flag.Uint64("user", 0, "user id (required)")
		role   = flag.String("role", middleware.RolePassenger, "PASSENGER, CONDUCTOR or ADMIN")
		ttl    = flag.Duration("ttl", time.Hour, "token lifetime")
	)
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if secret == "" || *userID == 0 {
		fmt.Fprintln(os.Stderr, "usage: JWT_SECRET=... tokengen -user ID [-role ROLE] [-ttl 1h]")
		os.Exit(2)
	}
	r := strings.ToUpper(*role)
	switch r {
	case middleware.RolePassenger, middleware.RoleConductor, middleware.RoleAdmin:
	default:
		fmt.Fprintf(os.Stderr, "unknown role %q\n", *role)
		os.Exit(2)
	}
	tok, err := utils.NewAccessToken(secret, *userID, r, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(tok.Token)
}
