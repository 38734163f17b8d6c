package main

import (
	"net/http"
	"time"
)

const externalHTTPTimeout = 200 * time.Second

var externalHTTPClient = &http.Client{
	Timeout: externalHTTPTimeout,
}
