package token

import (
	"bytes"
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kontoapp/konto/mock"
	"github.com/kontoapp/konto/pgdb"
	"github.com/kontoapp/konto/rest"
	"github.com/kontoapp/konto/user"
	"github.com/stretchr/testify/assert"
	"github.com/tidwall/buntdb"
)

func Test_TokenFlow(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
		return
	}
	assert := assert.New(t)
	ctx := context.Background()

	db := pgdb.OpenTest(ctx)
	defer db.Close()
	_, err := db.NewCreateTable().
		IfNotExists().
		Model((*user.Model)(nil)).
		Exec(ctx)
	assert.NoError(err)

	bdb, err := buntdb.Open(":memory:")
	if err != nil {
		panic(err)
	}
	defer bdb.Close()

	userStore := &user.Store{DB: db}
	activity := mock.ActivityStore{
		AddLogFn: func(ctx context.Context, userId int64, activity user.Activity) error {
			return nil
		},
	}
	controller := Controller{
		Issuer:    NewIssuer([]byte("sekretny sekret"), bdb),
		UserStore: userStore,
		Activity:  activity,
	}

	app := fiber.New(fiber.Config{ErrorHandler: rest.ErrorHandler})
	controller.InstallTo(app)
	app.Get("/whoami", rest.CombineHandlers(controller.Authorize, func(ctx *fiber.Ctx) error {
		account := ctx.Locals(user.LocalsKey).(*user.Model)
		return ctx.JSON(account)
	}))

	hash, err := user.HashPassword("makin2137")
	assert.NoError(err)
	account, err := userStore.Register(ctx, "makin", "makin@konto.app", hash)
	if !assert.NoError(err) {
		return
	}

	obtain := func(email string, password string) *http.Response {
		form := url.Values{}
		form.Set("username", email)
		form.Set("password", password)
		req := httptest.NewRequest("POST", "/token/", strings.NewReader(form.Encode()))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationForm)
		resp, err := app.Test(req)
		if !assert.NoError(err) {
			t.FailNow()
		}
		return resp
	}
	readBody := func(resp *http.Response) string {
		defer resp.Body.Close()
		body, err := ioutil.ReadAll(resp.Body)
		if !assert.NoError(err) {
			t.FailNow()
		}
		return string(body)
	}
	jsonPost := func(path string, payload interface{}) *http.Response {
		body, err := json.Marshal(payload)
		assert.NoError(err)
		req := httptest.NewRequest("POST", path, bytes.NewReader(body))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		resp, err := app.Test(req)
		if !assert.NoError(err) {
			t.FailNow()
		}
		return resp
	}

	// inactive account cannot log in even with proper credentials
	resp := obtain("makin@konto.app", "makin2137")
	assert.Equal(fiber.StatusForbidden, resp.StatusCode)
	assert.Equal(rest.JsonCaseResponse("InactiveUserError", "User is inactive"), readBody(resp))

	err = userStore.ConfirmEmail(ctx, account)
	assert.NoError(err)

	resp = obtain("unknown@konto.app", "makin2137")
	assert.Equal(fiber.StatusUnauthorized, resp.StatusCode)
	assert.Equal(rest.JsonCaseResponse("InvalidCredentialsError", "Invalid credentials"), readBody(resp))

	resp = obtain("makin@konto.app", "wrong password")
	assert.Equal(fiber.StatusUnauthorized, resp.StatusCode)

	resp = obtain("makin@konto.app", "makin2137")
	if !assert.Equal(fiber.StatusOK, resp.StatusCode) {
		return
	}
	tokens := struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
	}{}
	assert.NoError(json.Unmarshal([]byte(readBody(resp)), &tokens))
	assert.Equal("bearer", tokens.TokenType)
	assert.NotEmpty(tokens.AccessToken)
	assert.NotEmpty(tokens.RefreshToken)

	logged, err := userStore.ById(ctx, account.Id)
	assert.NoError(err)
	assert.True(logged.LastLoginAt.Valid)

	// authorized request
	req := httptest.NewRequest("GET", "/whoami", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+tokens.AccessToken)
	resp, err = app.Test(req)
	assert.NoError(err)
	assert.Equal(fiber.StatusOK, resp.StatusCode)

	// refresh rejects garbage and access tokens
	resp = jsonPost("/token/refresh", map[string]string{"token": "garbage"})
	assert.Equal(fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(rest.JsonCaseResponse("InvalidTokenError", "Invalid token"), readBody(resp))

	resp = jsonPost("/token/refresh", map[string]string{"token": tokens.AccessToken})
	assert.Equal(fiber.StatusUnprocessableEntity, resp.StatusCode)

	resp = jsonPost("/token/refresh", map[string]string{})
	assert.Equal(fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(rest.JsonCaseResponse("RefreshTokenRequiredError", "Refresh token required"), readBody(resp))

	// proper refresh issues a fresh access token
	resp = jsonPost("/token/refresh", map[string]string{"token": tokens.RefreshToken})
	if !assert.Equal(fiber.StatusOK, resp.StatusCode) {
		return
	}
	refreshed := struct {
		AccessToken string `json:"access_token"`
	}{}
	assert.NoError(json.Unmarshal([]byte(readBody(resp)), &refreshed))
	assert.NotEmpty(refreshed.AccessToken)

	// revoke, then the refresh token is dead
	resp = jsonPost("/token/revoke", map[string]string{"token": tokens.RefreshToken})
	assert.Equal(fiber.StatusNoContent, resp.StatusCode)

	resp = jsonPost("/token/refresh", map[string]string{"token": tokens.RefreshToken})
	assert.Equal(fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(rest.JsonCaseResponse("RevokedTokenError", "Token has been revoked"), readBody(resp))
}

func Test_AuthorizeExpiredAccessToken(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
		return
	}
	assert := assert.New(t)
	ctx := context.Background()

	db := pgdb.OpenTest(ctx)
	defer db.Close()
	_, err := db.NewCreateTable().
		IfNotExists().
		Model((*user.Model)(nil)).
		Exec(ctx)
	assert.NoError(err)

	bdb, err := buntdb.Open(":memory:")
	if err != nil {
		panic(err)
	}
	defer bdb.Close()

	userStore := &user.Store{DB: db}
	controller := Controller{
		Issuer:    NewIssuer([]byte("sekretny sekret"), bdb),
		UserStore: userStore,
	}
	app := fiber.New(fiber.Config{ErrorHandler: rest.ErrorHandler})
	app.Get("/whoami", rest.CombineHandlers(controller.Authorize, func(ctx *fiber.Ctx) error {
		return ctx.SendStatus(fiber.StatusOK)
	}))

	hash, err := user.HashPassword("makin2137")
	assert.NoError(err)
	account, err := userStore.Register(ctx, "makin", "expired@konto.app", hash)
	if !assert.NoError(err) {
		return
	}
	assert.NoError(userStore.ConfirmEmail(ctx, account))

	request := func(authorization string) (*http.Response, string) {
		req := httptest.NewRequest("GET", "/whoami", nil)
		if authorization != "" {
			req.Header.Set(fiber.HeaderAuthorization, authorization)
		}
		resp, err := app.Test(req)
		if !assert.NoError(err) {
			t.FailNow()
		}
		defer resp.Body.Close()
		body, err := ioutil.ReadAll(resp.Body)
		if !assert.NoError(err) {
			t.FailNow()
		}
		return resp, string(body)
	}

	resp, _ := request("")
	assert.Equal(fiber.StatusUnauthorized, resp.StatusCode)

	resp, _ = request("Basic bWFraW4=")
	assert.Equal(fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = request("Bearer garbage")
	assert.Equal(fiber.StatusUnauthorized, resp.StatusCode)

	// expired access token answers with the exact refresh trigger triple
	controller.Issuer.AccessTTL = -time.Minute
	expired, err := controller.Issuer.IssueAccess(account.Id)
	assert.NoError(err)
	resp, body := request("Bearer " + expired)
	assert.Equal(fiber.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(rest.JsonCaseResponse("JWTDecodeError", "Signature has expired"), body)

	// revoked access token is a plain unauthorized
	controller.Issuer.AccessTTL = time.Minute
	revoked, err := controller.Issuer.IssueAccess(account.Id)
	assert.NoError(err)
	assert.NoError(controller.Issuer.Revoke(revoked))
	resp, _ = request("Bearer " + revoked)
	assert.Equal(fiber.StatusUnauthorized, resp.StatusCode)
}
