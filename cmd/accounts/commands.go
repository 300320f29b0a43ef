package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/and161185/graph-accounts/internal/model"
)

// usageError reports bad command-line input.
type usageError string

func (e usageError) Error() string { return string(e) }

// accountView is the JSON form of an account; credentials are never printed.
type accountView struct {
	Username         string    `json:"username"`
	Email            string    `json:"email,omitempty"`
	PreferredLocales []string  `json:"preferredLocales,omitempty"`
	CreatedAt        time.Time `json:"createdAt,omitzero"`
	UpdatedAt        time.Time `json:"updatedAt,omitzero"`
}

func view(a *model.Account) accountView {
	return accountView{
		Username:         a.Username,
		Email:            a.Email,
		PreferredLocales: a.PreferredLocales,
		CreatedAt:        a.CreatedAt,
		UpdatedAt:        a.UpdatedAt,
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitLocales(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

// dispatch runs one subcommand.
func (a *app) dispatch(ctx context.Context, cmd string, args []string, stdout, stderr io.Writer) error {
	switch cmd {
	case "migrate":
		if err := a.migrateUp(ctx); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s schema is up to date\n", a.cfg.Engine)
		return nil

	case "create":
		fs := newFlagSet("create", stderr)
		u := fs.String("u", "", "username (generated from the email when empty)")
		e := fs.String("e", "", "email")
		p := fs.String("p", "", "password")
		l := fs.String("l", "", "comma-separated locales")
		if err := fs.Parse(args); err != nil {
			return usageError(err.Error())
		}
		if *e == "" || *p == "" {
			return usageError("need -e and -p")
		}
		acc, err := a.svc.Register(ctx, *u, *e, *p, splitLocales(*l))
		if err != nil {
			return err
		}
		return printJSON(stdout, view(acc))

	case "find":
		fs := newFlagSet("find", stderr)
		u := fs.String("u", "", "username")
		e := fs.String("e", "", "email")
		if err := fs.Parse(args); err != nil {
			return usageError(err.Error())
		}
		var (
			acc *model.Account
			err error
		)
		switch {
		case *u != "":
			acc, err = a.users.FindByUsername(ctx, *u)
		case *e != "":
			acc, err = a.users.FindByEmail(ctx, *e)
		default:
			return usageError("need -u or -e")
		}
		if err != nil {
			return err
		}
		return printJSON(stdout, view(acc))

	case "exists":
		fs := newFlagSet("exists", stderr)
		u := fs.String("u", "", "username")
		e := fs.String("e", "", "email")
		if err := fs.Parse(args); err != nil {
			return usageError(err.Error())
		}
		var (
			ok  bool
			err error
		)
		switch {
		case *u != "":
			ok, err = a.users.UsernameExists(ctx, *u)
		case *e != "":
			ok, err = a.users.EmailExists(ctx, *e)
		default:
			return usageError("need -u or -e")
		}
		if err != nil {
			return err
		}
		return printJSON(stdout, map[string]bool{"exists": ok})

	case "login":
		fs := newFlagSet("login", stderr)
		e := fs.String("e", "", "email")
		p := fs.String("p", "", "password")
		ip := fs.String("ip", "", "client address used for rate limiting")
		if err := fs.Parse(args); err != nil {
			return usageError(err.Error())
		}
		if *e == "" || *p == "" {
			return usageError("need -e and -p")
		}
		tok, acc, err := a.svc.LoginWithIP(ctx, *e, *p, *ip)
		if err != nil {
			return err
		}
		return printJSON(stdout, map[string]any{
			"username":    acc.Username,
			"accessToken": tok.AccessToken,
			"expiresAt":   tok.ExpiresAt,
		})

	case "search":
		fs := newFlagSet("search", stderr)
		q := fs.String("q", "", "username prefix")
		as := fs.String("as", "", "requesting username")
		if err := fs.Parse(args); err != nil {
			return usageError(err.Error())
		}
		if *as == "" {
			return usageError("need -as")
		}
		found, err := a.svc.Search(ctx, *q, *as)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(found))
		for _, acc := range found {
			names = append(names, acc.Username)
		}
		return printJSON(stdout, names)

	case "reset-request":
		fs := newFlagSet("reset-request", stderr)
		e := fs.String("e", "", "email")
		ip := fs.String("ip", "", "client address used for rate limiting")
		if err := fs.Parse(args); err != nil {
			return usageError(err.Error())
		}
		if *e == "" {
			return usageError("need -e")
		}
		tok, err := a.svc.RequestPasswordReset(ctx, *e, *ip)
		if err != nil {
			return err
		}
		return printJSON(stdout, map[string]any{
			"token":     tok.Token(),
			"expiresAt": tok.ExpiresAt(),
		})

	case "reset":
		fs := newFlagSet("reset", stderr)
		e := fs.String("e", "", "email")
		t := fs.String("t", "", "reset token")
		p := fs.String("p", "", "new password")
		if err := fs.Parse(args); err != nil {
			return usageError(err.Error())
		}
		if *e == "" || *t == "" || *p == "" {
			return usageError("need -e, -t and -p")
		}
		if err := a.svc.ResetPassword(ctx, *e, *t, *p); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "password changed")
		return nil

	case "locales":
		fs := newFlagSet("locales", stderr)
		u := fs.String("u", "", "username")
		l := fs.String("l", "", "comma-separated locales")
		if err := fs.Parse(args); err != nil {
			return usageError(err.Error())
		}
		if *u == "" {
			return usageError("need -u")
		}
		acc, err := a.svc.UpdateLocales(ctx, *u, splitLocales(*l))
		if err != nil {
			return err
		}
		return printJSON(stdout, view(acc))

	default:
		return usageError(fmt.Sprintf("unknown command %q\n\n%s", cmd, usageText))
	}
}
