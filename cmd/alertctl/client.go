package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	xhttp "AlertGate/pkg/http"
)

// apiClient talks to the alertgate operator API.
type apiClient struct {
	base string
	http *xhttp.Client
}

func newAPIClient(base string, timeout time.Duration) *apiClient {
	return &apiClient{
		base: strings.TrimRight(base, "/"),
		http: xhttp.NewClient(xhttp.WithTimeout(timeout), xhttp.WithHeader("Accept", "application/json")),
	}
}

// call sends a request and decodes the envelope's data into dest. Error envelopes become
// readable errors.
func (c *apiClient) call(ctx context.Context, method, path string, query url.Values, body, dest any) error {
	opts := &xhttp.RequestOptions{
		Method:      method,
		URL:         c.base + path,
		QueryParams: query,
		Body:        body,
	}
	var raw []byte
	err := c.http.SendAndParse(ctx, opts, &raw)
	var se *xhttp.StatusError
	if errors.As(err, &se) {
		return apiError(se)
	}
	if err != nil {
		return err
	}
	if dest == nil || len(raw) == 0 {
		return nil
	}
	env, err := xhttp.DecodeEnvelope[json.RawMessage](raw)
	if err != nil {
		return err
	}
	if !xhttp.HasData(env.Data) {
		return nil
	}
	return json.Unmarshal(env.Data, dest)
}

func apiError(se *xhttp.StatusError) error {
	if env, err := xhttp.DecodeEnvelope[[]xhttp.AppError]([]byte(se.Body)); err == nil {
		if details := env.Data; len(details) > 0 {
			msgs := make([]string, 0, len(details))
			for _, d := range details {
				m := d.Message
				if d.Field != "" {
					m = d.Field + ": " + m
				}
				msgs = append(msgs, m)
			}
			return fmt.Errorf("%d %s: %s", se.Code, env.Message, strings.Join(msgs, "; "))
		}
	}
	return se
}
