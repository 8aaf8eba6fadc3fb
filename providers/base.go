package providers

// Base holds the fields shared by provider implementations.
type Base struct {
	name    string
	baseURL string
}

// Name returns the provider name.
func (b *Base) Name() string { return b.name }

// BaseURL returns the provider root API URL without a trailing slash.
func (b *Base) BaseURL() string { return b.baseURL }
