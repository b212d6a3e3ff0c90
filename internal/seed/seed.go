// Package seed creates the bootstrap administrator and an optional sample
// catalog.  Every step is idempotent, so it is safe to run on each start.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/iliyamo/library-reservation/internal/model"
	"github.com/iliyamo/library-reservation/internal/repository"
	"github.com/iliyamo/library-reservation/internal/utils"
)

// Options selects what to create.  An empty AdminEmail skips the admin.
type Options struct {
	AdminEmail    string
	AdminPassword string
	AdminUsername string
	BcryptCost    int
	SampleCatalog bool
}

// Stores are the ports seeding writes through.
type Stores struct {
	Users  repository.UserStore
	Genres repository.GenreStore
	Books  repository.BookStore
}

type sampleBook struct {
	title, author, genre, isbn string
	year                       int
}

var sampleGenres = []string{"Fiction", "Science Fiction", "History", "Computer Science"}

var sampleBooks = []sampleBook{
	{"Solaris", "Stanisław Lem", "Science Fiction", "9780156027601", 1961},
	{"The Left Hand of Darkness", "Ursula K. Le Guin", "Science Fiction", "9780441478125", 1969},
	{"War and Peace", "Leo Tolstoy", "Fiction", "9781400079988", 1869},
	{"The Guns of August", "Barbara W. Tuchman", "History", "9780345476098", 1962},
	{"Structure and Interpretation of Computer Programs", "Harold Abelson", "Computer Science", "9780262510875", 1985},
}

// Run applies opts.
func Run(ctx context.Context, s Stores, opts Options, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AdminEmail != "" {
		if err := ensureAdmin(ctx, s.Users, opts, logger); err != nil {
			return err
		}
	}
	if opts.SampleCatalog {
		return sampleCatalog(ctx, s, logger)
	}
	return nil
}

func ensureAdmin(ctx context.Context, users repository.UserStore, opts Options, logger *slog.Logger) error {
	email := strings.ToLower(strings.TrimSpace(opts.AdminEmail))
	existing, err := users.GetByEmail(ctx, email)
	switch {
	case err == nil:
		if existing.Role != model.RoleAdmin {
			return fmt.Errorf("seed: %s exists and is not an admin", email)
		}
		logger.Info("admin already present", slog.String("email", email))
		return nil
	case !errors.Is(err, repository.ErrNotFound):
		return fmt.Errorf("seed: look up admin: %w", err)
	}
	if err := utils.ValidatePassword(opts.AdminPassword); err != nil {
		return fmt.Errorf("seed: admin password: %w", err)
	}
	hash, err := utils.HashPassword(opts.AdminPassword, opts.BcryptCost)
	if err != nil {
		return fmt.Errorf("seed: hash admin password: %w", err)
	}
	name := opts.AdminUsername
	if name == "" {
		name = "admin"
	}
	u := model.User{Email: email, Username: name, PasswordHash: hash, Role: model.RoleAdmin}
	if err := users.Create(ctx, &u); err != nil {
		return fmt.Errorf("seed: create admin: %w", err)
	}
	logger.Info("admin created", slog.String("email", email), slog.Uint64("user_id", u.ID))
	return nil
}

func sampleCatalog(ctx context.Context, s Stores, logger *slog.Logger) error {
	_, total, err := s.Books.List(ctx, repository.BookFilter{PageSize: 1})
	if err != nil {
		return fmt.Errorf("seed: count books: %w", err)
	}
	if total > 0 {
		logger.Info("catalog not empty, skipping sample data", slog.Int64("books", total))
		return nil
	}

	existing, err := s.Genres.List(ctx)
	if err != nil {
		return fmt.Errorf("seed: list genres: %w", err)
	}
	ids := make(map[string]uint64, len(existing))
	for _, g := range existing {
		ids[g.Name] = g.ID
	}
	for _, name := range sampleGenres {
		if _, ok := ids[name]; ok {
			continue
		}
		g := model.Genre{Name: name}
		if err := s.Genres.Create(ctx, &g); err != nil {
			return fmt.Errorf("seed: create genre %q: %w", name, err)
		}
		ids[name] = g.ID
	}
	for _, sb := range sampleBooks {
		gid := ids[sb.genre]
		isbn := sb.isbn
		b := model.Book{Title: sb.title, Author: sb.author, GenreID: &gid, YearPublished: sb.year, ISBN: &isbn}
		if err := s.Books.Create(ctx, &b); err != nil {
			return fmt.Errorf("seed: create book %q: %w", sb.title, err)
		}
	}
	logger.Info("sample catalog created", slog.Int("genres", len(sampleGenres)), slog.Int("books", len(sampleBooks)))
	return nil
}
