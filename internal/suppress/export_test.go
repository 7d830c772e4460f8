package suppress

import "time"

// SetNow overrides the clock used for expiry computation.
func (s *Service) SetNow(now func() time.Time) { s.now = now }
