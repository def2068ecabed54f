package devices

// Pool is the ordered credential set of one run. The front account is used
// until it runs out of credits, then evicted. Accounts are never re-added.
type Pool struct {
	apis []API
}

// NewPool returns a pool over apis, in order.
func NewPool(apis ...API) *Pool {
	return &Pool{apis: append([]API(nil), apis...)}
}

// NewHTTPPool builds one HTTPAPI per key.
func NewHTTPPool(baseURL string, keys []string) *Pool {
	p := &Pool{}
	for _, k := range keys {
		p.apis = append(p.apis, NewHTTPAPI(baseURL, k, nil))
	}
	return p
}

// Front returns the current account, or nil when the pool is empty.
func (p *Pool) Front() API {
	if len(p.apis) == 0 {
		return nil
	}
	return p.apis[0]
}

// Evict drops the front account.
func (p *Pool) Evict() {
	if len(p.apis) > 0 {
		p.apis = p.apis[1:]
	}
}

// Len returns the number of remaining accounts.
func (p *Pool) Len() int { return len(p.apis) }
