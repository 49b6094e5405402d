// Package puddle is the request layer for the puddle.farm statistics API.
//
// Every call goes through one shared RateLimiter and one RetryPolicy and
// fails with a small set of error kinds: a transport failure is returned as
// the underlying *url.Error, a terminal non-2xx status as *APIResponseError
// and an unusable 2xx body as *APIDecodeError. Both API errors match ErrAPI.
package puddle
