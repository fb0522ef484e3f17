package crawler

import "time"

// Config is the capture-worker configuration.
type Config struct {
	UserAgent  string        `long:"user-agent" env:"CRAWLER_USER_AGENT" default:"GovWatcher/1.0 (+https://govwatcher.org/bot; bot@govwatcher.org)" description:"User-Agent header sent with captures"`
	Timeout    time.Duration `long:"timeout" env:"CRAWL_TIMEOUT" default:"300s" description:"Total wall-clock budget of one capture"`
	Delay      time.Duration `long:"delay" env:"CRAWL_DELAY" default:"1s" description:"Delay between successive requests"`
	MaxRetries int           `long:"max-retries" env:"MAX_RETRIES" default:"3" description:"Retry budget of transient capture failures"`
	RetryDelay time.Duration `long:"retry-delay" env:"RETRY_DELAY" default:"60s" description:"Spacing between capture retries"`

	EnableScreenshots    bool `long:"screenshots" env:"ENABLE_SCREENSHOTS" description:"Capture a screenshot of each page"`
	EnablePDF            bool `long:"pdf" env:"ENABLE_PDF" description:"Render a PDF of each page"`
	EnableTextExtraction bool `long:"text-extraction" env:"ENABLE_TEXT_EXTRACTION" description:"Persist a plain-text projection of each page"`
}
