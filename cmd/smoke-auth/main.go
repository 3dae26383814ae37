package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type client struct {
	base string
	http *http.Client
}

func main() {
	log.SetFlags(0)
	var (
		base     = flag.String("base", envOr("CSPS_SMOKE_BASE", "http://localhost:8080"), "API base URL")
		username = flag.String("user", envOr("CSPS_SMOKE_USER", "student"), "username")
		password = flag.String("pass", envOr("CSPS_SMOKE_PASS", "student-password"), "password")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := &client{base: *base, http: &http.Client{Timeout: 5 * time.Second}}

	var first tokenPair
	if err := c.call(ctx, http.MethodPost, "/api/auth/login", "", map[string]string{
		"username": *username,
		"password": *password,
	}, http.StatusOK, &first); err != nil {
		log.Fatalf("login: %v", err)
	}

	var me struct {
		AccountID int64  `json:"account_id"`
		Role      string `json:"role"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/me", first.AccessToken, nil, http.StatusOK, &me); err != nil {
		log.Fatalf("me: %v", err)
	}

	var second tokenPair
	if err := c.call(ctx, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refresh_token": first.RefreshToken,
	}, http.StatusOK, &second); err != nil {
		log.Fatalf("refresh: %v", err)
	}
	if err := c.call(ctx, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refresh_token": first.RefreshToken,
	}, http.StatusUnauthorized, nil); err != nil {
		log.Fatalf("refresh reuse must fail: %v", err)
	}

	if err := c.call(ctx, http.MethodPost, "/api/auth/logout", second.AccessToken, nil, http.StatusNoContent, nil); err != nil {
		log.Fatalf("logout: %v", err)
	}
	if err := c.call(ctx, http.MethodPost, "/api/auth/refresh", "", map[string]string{
		"refresh_token": second.RefreshToken,
	}, http.StatusUnauthorized, nil); err != nil {
		log.Fatalf("refresh after logout must fail: %v", err)
	}

	fmt.Printf("auth smoke test passed: account=%d role=%s\n", me.AccountID, me.Role)
}

func (c *client) call(ctx context.Context, method, path, bearer string, body any, want int, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: status %d, want %d: %s", method, path, resp.StatusCode, want, bytes.TrimSpace(raw))
	}
	if out != nil {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
