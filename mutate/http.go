package mutate

import (
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"
)

// HTTPFetcher returns a Fetcher backed by an HTTP client with a
// cookie jar, suitable as the %service data fetch.
//
// A JSON response body is decoded; anything else comes back as a
// string.
func HTTPFetcher(timeout time.Duration) (Fetcher, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}

	client := &http.Client{
		Jar:     jar,
		Timeout: timeout,
	}

	return func(ctx context.Context, url string) (interface{}, error) {
		req, err := http.NewRequest("GET", url, nil)
		if err != nil {
			return nil, err
		}
		req = req.WithContext(ctx)

		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("service fetch status %s", resp.Status)
		}

		bs, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}

		var x interface{}
		if err := json.Unmarshal(bs, &x); err != nil {
			return string(bs), nil
		}
		return x, nil
	}, nil
}
