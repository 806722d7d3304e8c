// Package fetch retrieves remote payloads with bounded retries.
//
// A Getter performs one retrieval; Fetcher wraps it with a fixed number of
// attempts and an exponential backoff between them (base, 2*base, 4*base...).
// Every failure is retried the same way: an HTTP 404 is not treated
// differently from a reset connection. Only after the last attempt does a
// failure become Fatal.
//
//	f := fetch.NewFetcher(fetch.NewHTTPGetter(fetch.DefaultHTTPOptions()), fetch.DefaultOptions(), logger)
//	out := f.Fetch(ctx, "https://github.com/octocat.png")
//	if out.Kind != fetch.Success {
//	    return out.Err
//	}
package fetch
