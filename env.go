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
package main

import (
	"context"
	"os"
	"path"

	"github.com/joho/godotenv"
	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
)

// loadEnvFile loads the environment variables from file. Note that we only use .env file.
func loadEnvFile(ctx context.Context) error {
	workDir, err := os.Getwd()
	if err != nil {
		return errors.Wrapf(err, "getpwd")
	}

	envFile := path.Join(workDir, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Overload(envFile); err != nil {
			return errors.Wrapf(err, "load %v", envFile)
		}
	}

	return nil
}

// setupDefaultEnv sets the defaults of the flags, which the .env file or the
// environment overrides.
func setupDefaultEnv(ctx context.Context) {
	// The impairment of the path, in both directions.
	setEnvDefault("SCTP_BENCH_LOSS", "0.2")
	setEnvDefault("SCTP_BENCH_CORRUPT", "0.1")
	setEnvDefault("SCTP_BENCH_SEED", "12345")

	// The redis server to report to, disabled when empty.
	setEnvDefault("SCTP_BENCH_REDIS", "")
	// The redis server password.
	setEnvDefault("SCTP_BENCH_REDIS_PASSWORD", "")
	// The redis server db.
	setEnvDefault("SCTP_BENCH_REDIS_DB", "0")
	// The hash key of the report.
	setEnvDefault("SCTP_BENCH_REDIS_KEY", "srs-sctp-bench")

	logger.Tf(ctx, "load .env as SCTP_BENCH_LOSS=%v, SCTP_BENCH_CORRUPT=%v, SCTP_BENCH_SEED=%v, "+
		"SCTP_BENCH_REDIS=%v, SCTP_BENCH_REDIS_DB=%v, SCTP_BENCH_REDIS_KEY=%v",
		os.Getenv("SCTP_BENCH_LOSS"), os.Getenv("SCTP_BENCH_CORRUPT"), os.Getenv("SCTP_BENCH_SEED"),
		os.Getenv("SCTP_BENCH_REDIS"), os.Getenv("SCTP_BENCH_REDIS_DB"), os.Getenv("SCTP_BENCH_REDIS_KEY"),
	)
}

func setEnvDefault(key, value string) {
	if os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}
