package router

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/library-reservation/internal/config"
	"github.com/iliyamo/library-reservation/internal/handler"
	"github.com/iliyamo/library-reservation/internal/model"
	"github.com/iliyamo/library-reservation/internal/repository/memstore"
	"github.com/iliyamo/library-reservation/internal/service"
	"github.com/iliyamo/library-reservation/internal/utils"
)

type app struct {
	t     *testing.T
	e     *echo.Echo
	store *memstore.Store
}

func newApp(t *testing.T) *app {
	t.Helper()
	store := memstore.New()
	cfg := config.Config{JWTSecret: "router-test-secret-value", AccessTTLMin: 15, RefreshTTLDays: 7, BcryptCost: 4}
	wf := service.NewWorkflow(store.Reservations())
	cat := service.NewCatalog(store.Genres(), store.Books())
	e := New(Deps{
		JWTSecret:    cfg.JWTSecret,
		Auth:         handler.NewAuthHandler(cfg, store.Users(), store.Tokens()),
		Catalog:      handler.NewCatalogHandler(cat),
		Reservations: handler.NewReservationHandler(wf),
		Admin:        handler.NewAdminReservationHandler(wf),
	})

	hash, err := utils.HashPassword("admin-password", 4)
	require.NoError(t, err)
	admin := model.User{Email: "admin@library.test", Username: "admin", PasswordHash: hash, Role: model.RoleAdmin}
	require.NoError(t, store.Users().Create(context.Background(), &admin))
	return &app{t: t, e: e, store: store}
}

func (a *app) do(method, path, token, body string) *httptest.ResponseRecorder {
	var rdr *bytes.Reader
	if body != "" {
		rdr = bytes.NewReader([]byte(body))
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

type authBody struct {
	User struct {
		ID   uint64 `json:"id"`
		Role string `json:"role"`
	} `json:"user"`
	Access struct {
		Token string `json:"token"`
	} `json:"access"`
	Refresh struct {
		Token string `json:"token"`
	} `json:"refresh"`
}

func (a *app) login(email, password string) authBody {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/auth/login", "", fmt.Sprintf(`{"email":%q,"password":%q}`, email, password))
	require.Equal(a.t, http.StatusOK, rec.Code, rec.Body.String())
	var out authBody
	decode(a.t, rec, &out)
	return out
}

func (a *app) register(email string) authBody {
	a.t.Helper()
	body := fmt.Sprintf(`{"email":%q,"username":"u","password":"s3cret-pass","password2":"s3cret-pass","role":"admin"}`, email)
	rec := a.do(http.MethodPost, "/api/auth/register", "", body)
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	var out authBody
	decode(a.t, rec, &out)
	return out
}

func (a *app) book(admin, title string) uint64 {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/books", admin,
		fmt.Sprintf(`{"title":%q,"author":"Author","year_published":1999}`, title))
	require.Equal(a.t, http.StatusCreated, rec.Code, rec.Body.String())
	var b model.Book
	decode(a.t, rec, &b)
	return b.ID
}

func TestHealthAndUnknownRoutes(t *testing.T) {
	a := newApp(t)
	rec := a.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/readyz", "", "").Code)

	rec = a.do(http.MethodGet, "/api/nothing-here", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)
}

func TestAuthFlow(t *testing.T) {
	a := newApp(t)
	reg := a.register("Reader@Example.com")
	assert.Equal(t, "user", reg.User.Role, "role in the request body is ignored")

	rec := a.do(http.MethodPost, "/api/auth/register", "",
		`{"email":"reader@example.com","username":"x","password":"s3cret-pass","password2":"s3cret-pass"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(http.MethodPost, "/api/auth/register", "",
		`{"email":"new@example.com","username":"x","password":"s3cret-pass","password2":"different"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/api/auth/login", "", `{"email":"reader@example.com","password":"wrong-pass"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	login := a.login("reader@example.com", "s3cret-pass")
	rec = a.do(http.MethodGet, "/api/auth/me", login.Access.Token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"reader@example.com"`)

	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/auth/me", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodGet, "/api/auth/me", "garbage", "").Code)

	rec = a.do(http.MethodPut, "/api/auth/me", login.Access.Token, `{"username":"reader2","phone":"+123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"username":"reader2"`)

	// refresh rotates: the old refresh token stops working
	rec = a.do(http.MethodPost, "/api/auth/refresh", "", fmt.Sprintf(`{"refresh_token":%q}`, login.Refresh.Token))
	require.Equal(t, http.StatusOK, rec.Code)
	var rotated authBody
	decode(t, rec, &rotated)
	rec = a.do(http.MethodPost, "/api/auth/refresh", "", fmt.Sprintf(`{"refresh_token":%q}`, login.Refresh.Token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(http.MethodPost, "/api/auth/logout", "", fmt.Sprintf(`{"refresh_token":%q}`, rotated.Refresh.Token))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = a.do(http.MethodPost, "/api/auth/refresh", "", fmt.Sprintf(`{"refresh_token":%q}`, rotated.Refresh.Token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChangePassword(t *testing.T) {
	a := newApp(t)
	reg := a.register("pw@example.com")

	rec := a.do(http.MethodPost, "/api/auth/password/change", reg.Access.Token,
		`{"old_password":"nope-nope","new_password":"another-pass","new_password2":"another-pass"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(http.MethodPost, "/api/auth/password/change", reg.Access.Token,
		`{"old_password":"s3cret-pass","new_password":"another-pass","new_password2":"another-pass"}`)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = a.do(http.MethodPost, "/api/auth/refresh", "", fmt.Sprintf(`{"refresh_token":%q}`, reg.Refresh.Token))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "sessions are revoked")
	a.login("pw@example.com", "another-pass")
}

func TestCatalogWritesRequireAdmin(t *testing.T) {
	a := newApp(t)
	user := a.register("u@example.com")
	admin := a.login("admin@library.test", "admin-password")

	body := `{"title":"Dune","author":"Frank Herbert","year_published":1965}`
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodPost, "/api/books", "", body).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/api/books", user.Access.Token, body).Code)
	assert.Equal(t, http.StatusCreated, a.do(http.MethodPost, "/api/books", admin.Access.Token, body).Code)

	rec := a.do(http.MethodPost, "/api/books", admin.Access.Token,
		`{"title":"X","author":"Y","year_published":2000,"status":"taken"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "status")

	rec = a.do(http.MethodPost, "/api/books", admin.Access.Token, `{"title":"","author":"Y","year_published":2000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenresAndBookPatch(t *testing.T) {
	a := newApp(t)
	admin := a.login("admin@library.test", "admin-password").Access.Token

	rec := a.do(http.MethodPost, "/api/genres", admin, `{"name":"Science Fiction"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var g model.Genre
	decode(t, rec, &g)
	assert.Equal(t, http.StatusConflict, a.do(http.MethodPost, "/api/genres", admin, `{"name":"Science Fiction"}`).Code)

	rec = a.do(http.MethodPost, "/api/books", admin,
		fmt.Sprintf(`{"title":"Dune","author":"Frank Herbert","year_published":1965,"genre":%d}`, g.ID))
	require.Equal(t, http.StatusCreated, rec.Code)
	var b model.Book
	decode(t, rec, &b)
	require.NotNil(t, b.GenreID)

	assert.Equal(t, http.StatusConflict, a.do(http.MethodDelete, fmt.Sprintf("/api/genres/%d", g.ID), admin, "").Code)

	rec = a.do(http.MethodPatch, fmt.Sprintf("/api/books/%d", b.ID), admin, `{"genre":null,"title":"Dune Messiah"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &b)
	assert.Nil(t, b.GenreID)
	assert.Equal(t, "Dune Messiah", b.Title)
	assert.Equal(t, "Frank Herbert", b.Author)

	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, fmt.Sprintf("/api/genres/%d", g.ID), admin, "").Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, fmt.Sprintf("/api/genres/%d", g.ID), "", "").Code)
}

func TestBookListingAndSearch(t *testing.T) {
	a := newApp(t)
	admin := a.login("admin@library.test", "admin-password").Access.Token
	for _, title := range []string{"Alpha", "Beta", "Gamma"} {
		a.book(admin, title)
	}

	rec := a.do(http.MethodGet, "/api/books?ordering=title&page_size=2", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var page service.BookPage
	decode(t, rec, &page)
	assert.EqualValues(t, 3, page.Count)
	require.Len(t, page.Results, 2)
	assert.Equal(t, "Alpha", page.Results[0].Title)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/books?ordering=isbn", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/books?page=x", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/books/search", "", "").Code)

	rec = a.do(http.MethodGet, "/api/books/search?q=amm", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &page)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "Gamma", page.Results[0].Title)

	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, "/api/books/", "", "").Code, "trailing slash")
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, "/api/books/999", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodGet, "/api/books/abc", "", "").Code)
}

func TestReservationLifecycleOverHTTP(t *testing.T) {
	a := newApp(t)
	admin := a.login("admin@library.test", "admin-password").Access.Token
	alice := a.register("alice@example.com").Access.Token
	bob := a.register("bob@example.com").Access.Token
	bookID := a.book(admin, "Solaris")

	body := fmt.Sprintf(`{"book":%d,"pickup_date":"2026-11-02","pickup_time":"10:30"}`, bookID)
	assert.Equal(t, http.StatusUnauthorized, a.do(http.MethodPost, "/api/reservations", "", body).Code)

	rec := a.do(http.MethodPost, "/api/reservations", alice, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var r model.Reservation
	decode(t, rec, &r)
	assert.Equal(t, model.ReservationPending, r.Status)
	assert.Equal(t, "Solaris", r.BookTitle)

	rec = a.do(http.MethodPost, "/api/reservations", bob, body)
	assert.Equal(t, http.StatusConflict, rec.Code, "double booking")

	var b model.Book
	decode(t, a.do(http.MethodGet, fmt.Sprintf("/api/books/%d", bookID), "", ""), &b)
	assert.Equal(t, model.BookReserved, b.Status)

	rid := fmt.Sprintf("/api/reservations/%d", r.ID)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, rid, alice, "").Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodGet, rid, bob, "").Code)
	assert.Equal(t, http.StatusOK, a.do(http.MethodGet, rid, admin, "").Code)
	assert.Equal(t, http.StatusNotFound, a.do(http.MethodPost, rid+"/cancel", bob, "").Code)

	admin1 := fmt.Sprintf("/api/admin/reservations/%d", r.ID)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, admin1+"/confirm", alice, "").Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, admin1+"/taken", admin, "").Code)

	rec = a.do(http.MethodPost, admin1+"/confirm", admin, `{"admin_comment":"ready at desk 2"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decode(t, rec, &r)
	assert.Equal(t, model.ReservationConfirmed, r.Status)
	require.NotNil(t, r.AdminComment)
	assert.Equal(t, "ready at desk 2", *r.AdminComment)

	require.Equal(t, http.StatusOK, a.do(http.MethodPost, admin1+"/taken", admin, "").Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, rid+"/cancel", alice, "").Code)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, admin1+"/returned", admin, "").Code)

	decode(t, a.do(http.MethodGet, fmt.Sprintf("/api/books/%d", bookID), "", ""), &b)
	assert.Equal(t, model.BookAvailable, b.Status)

	rec = a.do(http.MethodGet, "/api/reservations?status=returned", alice, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []model.Reservation
	decode(t, rec, &mine)
	assert.Len(t, mine, 1)

	rec = a.do(http.MethodGet, "/api/reservations", bob, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, strings.TrimSpace(rec.Body.String()))

	// history blocks deletion
	assert.Equal(t, http.StatusConflict, a.do(http.MethodDelete, fmt.Sprintf("/api/books/%d", bookID), admin, "").Code)
}

func TestAdminListAndBulk(t *testing.T) {
	a := newApp(t)
	admin := a.login("admin@library.test", "admin-password").Access.Token
	alice := a.register("alice@example.com").Access.Token

	var ids []uint64
	for _, title := range []string{"One", "Two", "Three"} {
		bookID := a.book(admin, title)
		rec := a.do(http.MethodPost, "/api/reservations", alice, fmt.Sprintf(`{"book":%d}`, bookID))
		require.Equal(t, http.StatusCreated, rec.Code)
		var r model.Reservation
		decode(t, rec, &r)
		ids = append(ids, r.ID)
	}

	assert.Equal(t, http.StatusForbidden, a.do(http.MethodGet, "/api/admin/reservations", alice, "").Code)
	rec := a.do(http.MethodGet, "/api/admin/reservations?status=pending", admin, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []model.Reservation
	decode(t, rec, &all)
	assert.Len(t, all, 3)

	rec = a.do(http.MethodPost, "/api/admin/reservations/bulk/confirm", admin,
		fmt.Sprintf(`{"ids":[%d,%d]}`, ids[0], ids[1]))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out struct {
		Total     int `json:"total"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
	}
	decode(t, rec, &out)
	assert.Equal(t, 2, out.Total)
	assert.Equal(t, 2, out.Succeeded)

	rec = a.do(http.MethodPost, "/api/admin/reservations/bulk/taken", admin,
		fmt.Sprintf(`{"ids":[%d,%d]}`, ids[1], ids[2]))
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &out)
	assert.Equal(t, 1, out.Succeeded)
	assert.Equal(t, 1, out.Failed)

	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/admin/reservations/bulk/cancel", admin, `{"ids":[1]}`).Code)
	assert.Equal(t, http.StatusBadRequest, a.do(http.MethodPost, "/api/admin/reservations/bulk/confirm", admin, `{}`).Code)
	assert.Equal(t, http.StatusForbidden, a.do(http.MethodPost, "/api/admin/reservations/bulk/confirm", alice, `{"ids":[1]}`).Code)
}
