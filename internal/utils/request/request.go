package request

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// New returns the resty client shared by the REST adapters.
func New() *resty.Client {
	return Configure(resty.New().SetTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment, // 通用适配环境变量
	}))
}

// Configure applies the common timeout and retry policy to c. Only
// transport failures are retried; exchange rejections come back as
// ordinary responses.
func Configure(c *resty.Client) *resty.Client {
	return c.
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second)
}
