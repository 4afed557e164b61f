package siteops

// StatusBucketOf maps an HTTP status code to its coarse bucket ("2xx"
// through "5xx"). Codes outside 200-599 yield an empty bucket.
func StatusBucketOf(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return ""
	}
}

// Matches reports whether a result row satisfies every set predicate.
func (f ResultFilter) Matches(r Result) bool {
	if f.Category != nil && r.Category != *f.Category {
		return false
	}
	if f.StatusBucket != "" && StatusBucketOf(r.StatusCode) != f.StatusBucket {
		return false
	}
	if f.Succeeded != nil && r.Succeeded != *f.Succeeded {
		return false
	}
	if f.MissingTitle && r.Title != "" {
		return false
	}
	if f.MissingDescription && r.MetaDescription != "" {
		return false
	}
	if f.MissingH1 && r.H1 != "" {
		return false
	}
	return true
}
