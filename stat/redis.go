// The MIT License (MIT)
//
// Copyright (c) 2021 Winlin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

package stat

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ossrs/go-oryx-lib/errors"
)

// RedisReporter writes the report of a run into a redis hash, so a fleet of
// bench processes can be compared.
type RedisReporter struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisReporter connects and pings the server. The report expires after ttl,
// zero keeps it.
func NewRedisReporter(ctx context.Context, opts *redis.Options, key string, ttl time.Duration) (*RedisReporter, error) {
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %v", opts.Addr)
	}

	return &RedisReporter{rdb: rdb, key: key, ttl: ttl}, nil
}

func (v *RedisReporter) Report(ctx context.Context, r *Report) error {
	b, err := json.Marshal(r)
	if err != nil {
		return errors.Wrapf(err, "marshal report")
	}

	pipe := v.rdb.TxPipeline()
	pipe.HSet(ctx, v.key, "report", string(b), "done", r.Transfers.Done, "updated", time.Now().Unix())
	if v.ttl > 0 {
		pipe.Expire(ctx, v.key, v.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "write %v", v.key)
	}
	return nil
}

// Load reads back the report written by Report.
func (v *RedisReporter) Load(ctx context.Context) (*Report, error) {
	s, err := v.rdb.HGet(ctx, v.key, "report").Result()
	if err != nil {
		return nil, errors.Wrapf(err, "read %v", v.key)
	}

	r := &Report{}
	if err := json.Unmarshal([]byte(s), r); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %v", s)
	}
	return r, nil
}

func (v *RedisReporter) Close() error {
	return v.rdb.Close()
}
