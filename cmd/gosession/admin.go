package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/directory"
	"github.com/MrEthical07/goSession/internal/db"
)

func tenantFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "tenant",
		Aliases: []string{"t"},
		Value:   "default",
		Usage:   "tenant id",
		Config:  cli.StringConfig{TrimSpace: true},
	}
}

func newMigrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "apply database migrations",
		Action: withDB(func(ctx context.Context, _ *cli.Command, d *deps) error {
			return db.Migrate(ctx, d.db)
		}),
	}
}

//-------------------------------------------------------------

func newAddUserCmd() *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "add new user",
		Flags: []cli.Flag{
			tenantFlag(),
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Required: true},
			&cli.StringFlag{Name: "name", Usage: "full name"},
			&cli.StringFlag{Name: "type", Value: goSession.UserTypeSystem, Usage: "user type"},
			&cli.StringFlag{Name: "lang", Usage: "preferred language"},
			&cli.IntFlag{Name: "sessions", Usage: "simultaneous sessions; 0 uses the server policy"},
			&cli.BoolFlag{Name: "totp", Usage: "require a TOTP second factor and print its provisioning url"},
			&cli.BoolFlag{Name: "reset", Usage: "require a password change on first login"},
		},
		Action: withDB(addUserAction),
	}
}

//nolint:forbidigo
func addUserAction(ctx context.Context, clicmd *cli.Command, d *deps) error {
	nu := directory.NewUser{
		TenantID:              clicmd.String("tenant"),
		Name:                  clicmd.String("username"),
		Password:              clicmd.String("password"),
		FullName:              clicmd.String("name"),
		UserType:              clicmd.String("type"),
		Language:              clicmd.String("lang"),
		SimultaneousSessions:  int(clicmd.Int("sessions")),
		PasswordResetRequired: clicmd.Bool("reset"),
	}

	var url string
	if clicmd.Bool("totp") {
		secret, u, err := goSession.GenerateTOTPSecret(d.cfg.Engine.Login.TOTPIssuer, nu.Name)
		if err != nil {
			return fmt.Errorf("generate totp secret: %w", err)
		}
		nu.TOTPSecret, url = secret, u
	}

	if err := d.dir.Add(ctx, nu); err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().Str("tenant_id", nu.TenantID).Str("user_name", nu.Name).Msg("user added")
	if url != "" {
		fmt.Println(url)
	}
	return nil
}

func newPasswordCmd() *cli.Command {
	return &cli.Command{
		Name:  "passwd",
		Usage: "set user password",
		Flags: []cli.Flag{
			tenantFlag(),
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "password", Aliases: []string{"p"}, Required: true},
			&cli.BoolFlag{Name: "reset", Usage: "require a password change on next login"},
		},
		Action: withDB(func(ctx context.Context, clicmd *cli.Command, d *deps) error {
			return d.dir.SetPassword(ctx, clicmd.String("tenant"), clicmd.String("username"),
				clicmd.String("password"), clicmd.Bool("reset"))
		}),
	}
}

func newLockUserCmd() *cli.Command {
	return &cli.Command{
		Name:  "lock",
		Usage: "disable or re-enable a user",
		Flags: []cli.Flag{
			tenantFlag(),
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.BoolFlag{Name: "unlock", Usage: "enable the user again"},
		},
		Action: withEngine(func(ctx context.Context, clicmd *cli.Command, d *deps) error {
			tenant, user := clicmd.String("tenant"), clicmd.String("username")
			unlock := clicmd.Bool("unlock")

			if err := d.dir.SetEnabled(ctx, tenant, user, unlock); err != nil {
				return err
			}
			if unlock {
				return nil
			}

			// A disabled user must not keep running sessions.
			_, err := d.engine.LogoutAll(ctx, tenant, user)
			return err
		}),
	}
}

//-------------------------------------------------------------

func newClearSessionsCmd() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "delete expired sessions",
		Action: withEngine(func(ctx context.Context, _ *cli.Command, d *deps) error {
			n, err := d.engine.SweepExpired(ctx)
			if err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Int64("deleted", n).Msg("expired sessions cleared")
			return nil
		}),
	}
}

func newLogoutUserCmd() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "end every session of a user",
		Flags: []cli.Flag{
			tenantFlag(),
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
		},
		Action: withEngine(func(ctx context.Context, clicmd *cli.Command, d *deps) error {
			sids, err := d.engine.LogoutAll(ctx, clicmd.String("tenant"), clicmd.String("username"))
			if err != nil {
				return err
			}
			zerolog.Ctx(ctx).Info().Int("sessions", len(sids)).Msg("user logged out")
			return nil
		}),
	}
}

//-------------------------------------------------------------

func newAuditCmd() *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "show recent login events of a user",
		Flags: []cli.Flag{
			tenantFlag(),
			&cli.StringFlag{Name: "username", Aliases: []string{"u"}, Required: true},
			&cli.IntFlag{Name: "limit", Value: 20},
		},
		Action: withEngine(auditAction),
	}
}

//nolint:forbidigo
func auditAction(ctx context.Context, clicmd *cli.Command, d *deps) error {
	rows, err := d.engine.RecentLogins(ctx, clicmd.String("tenant"), clicmd.String("username"), int(clicmd.Int("limit")))
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errors.New("no audit events")
	}

	for _, r := range rows {
		result := "ok"
		if !r.Success {
			result = r.Reason
		}
		fmt.Fprintf(os.Stdout, "%s\t%s\t%s\t%s\n",
			time.UnixMilli(r.OccurredAt).UTC().Format(time.RFC3339), r.EventType, r.IP, result)
	}
	return nil
}
