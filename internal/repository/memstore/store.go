// Package memstore is an in-process implementation of the repository ports.
// It backs the test suites and the STORE_DRIVER=memory mode of the server.
//
// Every read and write takes a single mutex.  Workflow transactions run on a
// copy of the data that replaces the live state only when the callback
// succeeds, so a failed transition leaves no partial writes behind.  The
// unique constraints of the MySQL schema (genre name, ISBN, email and one
// active reservation per book) are enforced the same way and reported with
// the same sentinel errors.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/iliyamo/library-reservation/internal/model"
	"github.com/iliyamo/library-reservation/internal/repository"
)

type refreshToken struct {
	userID    uint64
	expiresAt time.Time
	revoked   bool
}

type state struct {
	genres       map[uint64]model.Genre
	books        map[uint64]model.Book
	reservations map[uint64]model.Reservation
	users        map[uint64]model.User
	tokens       map[string]refreshToken

	genreSeq, bookSeq, reservationSeq, userSeq uint64
}

func newState() *state {
	return &state{
		genres:       make(map[uint64]model.Genre),
		books:        make(map[uint64]model.Book),
		reservations: make(map[uint64]model.Reservation),
		users:        make(map[uint64]model.User),
		tokens:       make(map[string]refreshToken),
	}
}

func (s *state) clone() *state {
	c := &state{
		genres:         make(map[uint64]model.Genre, len(s.genres)),
		books:          make(map[uint64]model.Book, len(s.books)),
		reservations:   make(map[uint64]model.Reservation, len(s.reservations)),
		users:          make(map[uint64]model.User, len(s.users)),
		tokens:         make(map[string]refreshToken, len(s.tokens)),
		genreSeq:       s.genreSeq,
		bookSeq:        s.bookSeq,
		reservationSeq: s.reservationSeq,
		userSeq:        s.userSeq,
	}
	for k, v := range s.genres {
		c.genres[k] = v
	}
	for k, v := range s.books {
		c.books[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	return c
}

// Store holds all entities in memory.
type Store struct {
	mu   sync.Mutex
	data *state
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source used for created/updated timestamps
// and token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns an empty Store.
func New(opts ...Option) *Store {
	s := &Store{data: newState(), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) clock() time.Time { return s.now().UTC() }

// Genres returns the genre view of the store.
func (s *Store) Genres() repository.GenreStore { return genreView{s} }

// Books returns the book view of the store.
func (s *Store) Books() repository.BookStore { return bookView{s} }

// Reservations returns the reservation view of the store.
func (s *Store) Reservations() repository.ReservationStore { return reservationView{s} }

// Users returns the user view of the store.
func (s *Store) Users() repository.UserStore { return userView{s} }

// Tokens returns the refresh token view of the store.
func (s *Store) Tokens() repository.TokenStore { return tokenView{s} }

// ---- genres ----

type genreView struct{ s *Store }

func (v genreView) List(ctx context.Context) ([]model.Genre, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	out := make([]model.Genre, 0, len(v.s.data.genres))
	for _, g := range v.s.data.genres {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (v genreView) Get(ctx context.Context, id uint64) (*model.Genre, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	g, ok := v.s.data.genres[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &g, nil
}

func (v genreView) nameTaken(name string, except uint64) bool {
	for id, g := range v.s.data.genres {
		if id != except && strings.EqualFold(g.Name, name) {
			return true
		}
	}
	return false
}

func (v genreView) Create(ctx context.Context, g *model.Genre) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if v.nameTaken(g.Name, 0) {
		return repository.ErrDuplicate
	}
	v.s.data.genreSeq++
	g.ID = v.s.data.genreSeq
	g.CreatedAt = v.s.clock()
	v.s.data.genres[g.ID] = *g
	return nil
}

func (v genreView) Update(ctx context.Context, g *model.Genre) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	cur, ok := v.s.data.genres[g.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if v.nameTaken(g.Name, g.ID) {
		return repository.ErrDuplicate
	}
	cur.Name = g.Name
	cur.Description = g.Description
	v.s.data.genres[g.ID] = cur
	*g = cur
	return nil
}

func (v genreView) Delete(ctx context.Context, id uint64) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.data.genres[id]; !ok {
		return repository.ErrNotFound
	}
	for _, b := range v.s.data.books {
		if b.GenreID != nil && *b.GenreID == id {
			return repository.ErrConflict
		}
	}
	delete(v.s.data.genres, id)
	return nil
}

// ---- books ----

type bookView struct{ s *Store }

// withGenre resolves the genre name of b against d.
func withGenre(d *state, b model.Book) model.Book {
	b.GenreName = nil
	if b.GenreID != nil {
		if g, ok := d.genres[*b.GenreID]; ok {
			name := g.Name
			b.GenreName = &name
		}
	}
	return b
}

func matchesBook(b model.Book, f repository.BookFilter) bool {
	if f.GenreID != nil && (b.GenreID == nil || *b.GenreID != *f.GenreID) {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.Year != nil && b.YearPublished != *f.Year {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		return strings.Contains(strings.ToLower(b.Title), q) ||
			strings.Contains(strings.ToLower(b.Author), q) ||
			strings.Contains(strings.ToLower(b.Description), q)
	}
	return true
}

func lessBook(ordering string) func(a, b model.Book) bool {
	desc := strings.HasPrefix(ordering, "-")
	key := strings.TrimPrefix(ordering, "-")
	if !repository.ValidBookOrdering(ordering) || key == "" {
		key, desc = "created_at", true
	}
	cmp := func(a, b model.Book) int {
		switch key {
		case "title":
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		case "author":
			return strings.Compare(strings.ToLower(a.Author), strings.ToLower(b.Author))
		case "year_published":
			return a.YearPublished - b.YearPublished
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	}
	return func(a, b model.Book) bool {
		c := cmp(a, b)
		if c == 0 {
			if desc {
				return a.ID > b.ID
			}
			return a.ID < b.ID
		}
		if desc {
			return c > 0
		}
		return c < 0
	}
}

func (v bookView) List(ctx context.Context, f repository.BookFilter) ([]model.Book, int64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	matched := make([]model.Book, 0)
	for _, b := range v.s.data.books {
		if matchesBook(b, f) {
			matched = append(matched, withGenre(v.s.data, b))
		}
	}
	less := lessBook(f.Ordering)
	sort.Slice(matched, func(i, j int) bool { return less(matched[i], matched[j]) })

	page, size := f.Page, f.PageSize
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 20
	}
	total := int64(len(matched))
	start := (page - 1) * size
	if start >= len(matched) {
		return []model.Book{}, total, nil
	}
	end := start + size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (v bookView) Get(ctx context.Context, id uint64) (*model.Book, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	b, ok := v.s.data.books[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	b = withGenre(v.s.data, b)
	return &b, nil
}

// checkBook enforces the genre reference and ISBN uniqueness.
func (v bookView) checkBook(b *model.Book) error {
	if b.GenreID != nil {
		if _, ok := v.s.data.genres[*b.GenreID]; !ok {
			return repository.ErrNotFound
		}
	}
	if b.ISBN != nil {
		for id, other := range v.s.data.books {
			if id != b.ID && other.ISBN != nil && *other.ISBN == *b.ISBN {
				return repository.ErrDuplicate
			}
		}
	}
	return nil
}

func (v bookView) Create(ctx context.Context, b *model.Book) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	b.ID = 0
	if err := v.checkBook(b); err != nil {
		return err
	}
	v.s.data.bookSeq++
	b.ID = v.s.data.bookSeq
	b.Status = model.BookAvailable
	b.CreatedAt = v.s.clock()
	b.UpdatedAt = b.CreatedAt
	v.s.data.books[b.ID] = *b
	*b = withGenre(v.s.data, *b)
	return nil
}

func (v bookView) Update(ctx context.Context, b *model.Book) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	cur, ok := v.s.data.books[b.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if err := v.checkBook(b); err != nil {
		return err
	}
	cur.Title = b.Title
	cur.Author = b.Author
	cur.Description = b.Description
	cur.GenreID = b.GenreID
	cur.YearPublished = b.YearPublished
	cur.ISBN = b.ISBN
	cur.CoverImageURL = b.CoverImageURL
	cur.PDFURL = b.PDFURL
	cur.UpdatedAt = v.s.clock()
	v.s.data.books[b.ID] = cur
	*b = withGenre(v.s.data, cur)
	return nil
}

func (v bookView) Delete(ctx context.Context, id uint64) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.data.books[id]; !ok {
		return repository.ErrNotFound
	}
	for _, r := range v.s.data.reservations {
		if r.BookID == id {
			return repository.ErrConflict
		}
	}
	delete(v.s.data.books, id)
	return nil
}

// ---- reservations ----

type reservationView struct{ s *Store }

func withTitle(d *state, r model.Reservation) model.Reservation {
	if b, ok := d.books[r.BookID]; ok {
		r.BookTitle = b.Title
	}
	return r
}

func (v reservationView) Get(ctx context.Context, id uint64) (*model.Reservation, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	r, ok := v.s.data.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	r = withTitle(v.s.data, r)
	return &r, nil
}

func (v reservationView) List(ctx context.Context, f repository.ReservationFilter) ([]model.Reservation, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	out := make([]model.Reservation, 0)
	for _, r := range v.s.data.reservations {
		if f.UserID != nil && r.UserID != *f.UserID {
			continue
		}
		if f.BookID != nil && r.BookID != *f.BookID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		out = append(out, withTitle(v.s.data, r))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReservationDate.Equal(out[j].ReservationDate) {
			return out[i].ID > out[j].ID
		}
		return out[i].ReservationDate.After(out[j].ReservationDate)
	})
	return out, nil
}

// InTx runs fn against a private copy of the data and publishes the copy
// when fn returns nil.  Transactions are serialized by the store mutex, so
// fn must not call back into the non-transactional views.
func (v reservationView) InTx(ctx context.Context, fn func(tx repository.WorkflowTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	work := v.s.data.clone()
	if err := fn(&memTx{d: work, now: v.s.clock}); err != nil {
		return err
	}
	v.s.data = work
	return nil
}

type memTx struct {
	d   *state
	now func() time.Time
}

func (t *memTx) LockBook(ctx context.Context, id uint64) (*model.Book, error) {
	b, ok := t.d.books[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (t *memTx) LockReservation(ctx context.Context, id uint64) (*model.Reservation, error) {
	r, ok := t.d.reservations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &r, nil
}

func (t *memTx) HasActiveReservation(ctx context.Context, userID, bookID uint64) (bool, error) {
	for _, r := range t.d.reservations {
		if r.UserID == userID && r.BookID == bookID && r.Status.Active() {
			return true, nil
		}
	}
	return false, nil
}

// activeHolder returns the id of the active reservation on bookID other
// than except, or zero.
func (t *memTx) activeHolder(bookID, except uint64) uint64 {
	for id, r := range t.d.reservations {
		if id != except && r.BookID == bookID && r.Status.Active() {
			return id
		}
	}
	return 0
}

func (t *memTx) InsertReservation(ctx context.Context, r *model.Reservation) error {
	if _, ok := t.d.books[r.BookID]; !ok {
		return repository.ErrNotFound
	}
	if _, ok := t.d.users[r.UserID]; !ok {
		return repository.ErrNotFound
	}
	if r.Status.Active() && t.activeHolder(r.BookID, 0) != 0 {
		return repository.ErrDuplicate
	}
	t.d.reservationSeq++
	r.ID = t.d.reservationSeq
	stored := *r
	stored.BookTitle = ""
	t.d.reservations[r.ID] = stored
	return nil
}

func (t *memTx) UpdateReservation(ctx context.Context, r *model.Reservation) error {
	cur, ok := t.d.reservations[r.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if r.Status.Active() && t.activeHolder(cur.BookID, r.ID) != 0 {
		return repository.ErrDuplicate
	}
	cur.Status = r.Status
	cur.ConfirmedDate = r.ConfirmedDate
	cur.TakenDate = r.TakenDate
	cur.ReturnDate = r.ReturnDate
	cur.AdminComment = r.AdminComment
	t.d.reservations[r.ID] = cur
	return nil
}

func (t *memTx) SetBookStatus(ctx context.Context, bookID uint64, status model.BookStatus) error {
	b, ok := t.d.books[bookID]
	if !ok {
		return repository.ErrNotFound
	}
	b.Status = status
	b.UpdatedAt = t.now()
	t.d.books[bookID] = b
	return nil
}

// ---- users ----

type userView struct{ s *Store }

func (v userView) Create(ctx context.Context, u *model.User) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	for _, other := range v.s.data.users {
		if other.Email == u.Email {
			return repository.ErrDuplicate
		}
	}
	if u.Role == "" {
		u.Role = model.RoleUser
	}
	v.s.data.userSeq++
	u.ID = v.s.data.userSeq
	u.IsActive = true
	u.CreatedAt = v.s.clock()
	u.UpdatedAt = u.CreatedAt
	v.s.data.users[u.ID] = *u
	return nil
}

func (v userView) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range v.s.data.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (v userView) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	u, ok := v.s.data.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (v userView) UpdateProfile(ctx context.Context, u *model.User) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	cur, ok := v.s.data.users[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Username = u.Username
	cur.Phone = u.Phone
	cur.UpdatedAt = v.s.clock()
	v.s.data.users[u.ID] = cur
	*u = cur
	return nil
}

func (v userView) UpdatePassword(ctx context.Context, id uint64, passwordHash string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	cur, ok := v.s.data.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	cur.PasswordHash = passwordHash
	cur.UpdatedAt = v.s.clock()
	v.s.data.users[id] = cur
	return nil
}

// ---- refresh tokens ----

type tokenView struct{ s *Store }

func (v tokenView) StoreRefresh(ctx context.Context, userID uint64, tokenHash string, exp time.Time) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, ok := v.s.data.tokens[tokenHash]; ok {
		return repository.ErrDuplicate
	}
	v.s.data.tokens[tokenHash] = refreshToken{userID: userID, expiresAt: exp.UTC()}
	return nil
}

func (v tokenView) ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	t, ok := v.s.data.tokens[tokenHash]
	if !ok || t.revoked || v.s.clock().After(t.expiresAt) {
		return 0, repository.ErrNotFound
	}
	return t.userID, nil
}

func (v tokenView) RevokeByHash(ctx context.Context, tokenHash string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if t, ok := v.s.data.tokens[tokenHash]; ok {
		t.revoked = true
		v.s.data.tokens[tokenHash] = t
	}
	return nil
}

func (v tokenView) RevokeAllForUser(ctx context.Context, userID uint64) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	for h, t := range v.s.data.tokens {
		if t.userID == userID {
			t.revoked = true
			v.s.data.tokens[h] = t
		}
	}
	return nil
}
