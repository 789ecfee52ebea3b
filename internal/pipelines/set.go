package pipelines

import "context"

// Set bundles the coordinators of one project.
type Set struct {
	Image   *Image
	Video   *Video
	Combine *Combine
}

// Statuses returns the status of every pipeline keyed by kind. The scoped
// video regeneration is reported under KindVideoRegenerate.
func (s *Set) Statuses() map[string]Status {
	return map[string]Status{
		KindImage:           s.Image.Status(),
		KindVideo:           s.Video.Status(),
		KindVideoRegenerate: s.Video.RegenerationStatus(),
		KindCombine:         s.Combine.Status(),
	}
}

// Active reports whether any pipeline of the project is in flight.
func (s *Set) Active() bool {
	for _, st := range s.Statuses() {
		if st.State.Active() {
			return true
		}
	}
	return false
}

// Wait blocks until every polled pipeline finishes or ctx is done.
func (s *Set) Wait(ctx context.Context) error {
	if err := s.Image.Wait(ctx); err != nil {
		return err
	}
	return s.Video.Wait(ctx)
}

// Stop stops observing every job. Remote jobs are left running.
func (s *Set) Stop() {
	s.Image.Stop()
	s.Video.Stop()
}
