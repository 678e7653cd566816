package authkit_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/junoyi/authkit"
	"github.com/junoyi/authkit/session"
)

// ExampleNew builds a client whose session survives restarts in Redis.
func ExampleNew() {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
	store := session.NewRedisStore(rdb, "authkit:sess", 24*time.Hour, nil)

	client, err := authkit.New().
		WithBaseURL("https://admin.example.com", "/prod-api").
		WithStore(store).
		Build()
	if err != nil {
		return
	}
	defer client.Close()
}

// ExampleClient_Do shows how failures are classified.
func ExampleClient_Do() {
	var client *authkit.Client
	resp, err := client.Do(context.Background(), authkit.Request{URL: "/system/user/list"})
	switch {
	case errors.Is(err, authkit.ErrUnauthorized):
		// the session could not be refreshed; the user is being signed out
	case errors.Is(err, authkit.ErrBusiness):
		he, _ := authkit.AsHTTPError(err)
		_ = he.Message
	case err == nil:
		_ = resp.Data
	}
}

// ExampleFetch decodes the envelope data of a call into a typed value.
func ExampleFetch() {
	type user struct {
		ID   int64  `json:"userId"`
		Name string `json:"userName"`
	}
	var client *authkit.Client
	u, err := authkit.Fetch[user](context.Background(), client, authkit.Request{URL: "/user/info"})
	if err == nil {
		_ = u.Name
	}
}

func ExampleHTTPError() {
	err := &authkit.HTTPError{Code: 1002, Kind: authkit.KindBusiness, Message: "record is locked"}
	fmt.Println(err)
	fmt.Println(errors.Is(err, authkit.ErrBusiness))
	// Output:
	// authkit: business error 1002: record is locked
	// true
}
