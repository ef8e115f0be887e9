package fit

import (
	"fmt"

	"github.com/Skryldev/asset-optimizer/core"
	apperrors "github.com/Skryldev/asset-optimizer/errors"
)

// session drives the probing state machine for one texture:
//
//	Original -> Probing(candidate) -> RolledBack -> Probing ... -> Committed(target)
//
// A snapshot of every frame at the original format is taken up front so a
// rollback restores the exact bytes rather than re-encoding them.
type session struct {
	tex      core.Texture
	original core.Format
	snapshot [][]byte
	state    core.ProbeState
	trail    []core.Transition
}

func newSession(tex core.Texture) (*session, error) {
	s := &session{
		tex:      tex,
		original: tex.Format(),
		snapshot: make([][]byte, tex.FrameCount()),
		state:    core.StateOriginal,
	}
	for i := range s.snapshot {
		raw, err := tex.RawPixels(i)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CategoryClassify, "fit.snapshot", err)
		}
		s.snapshot[i] = raw
	}
	return s, nil
}

func (s *session) move(to core.ProbeState, f core.Format, frame int) {
	s.trail = append(s.trail, core.Transition{From: s.state, To: to, Format: f, Frame: frame})
	s.state = to
}

// dirty reports whether the texture may differ from the snapshot.
func (s *session) dirty() bool {
	return s.state == core.StateProbing || s.state == core.StateCommitted
}

// probe switches the whole texture to candidate.  Only legal from a pristine
// state.
func (s *session) probe(candidate core.Format, frame int) error {
	if s.dirty() {
		return apperrors.New(apperrors.CategoryMutation, "fit.probe",
			fmt.Errorf("probe from state %s", s.state))
	}
	s.move(core.StateProbing, candidate, frame)
	if err := s.tex.SetFormat(candidate); err != nil {
		return apperrors.Wrap(apperrors.CategoryMutation, "fit.probe", err)
	}
	return nil
}

// rollback restores the pristine original.  It is a no-op when nothing has
// been changed since the last restore.
func (s *session) rollback(frame int) error {
	if !s.dirty() {
		return nil
	}
	if err := s.tex.SetFormat(s.original); err != nil {
		return apperrors.Wrap(apperrors.CategoryMutation, "fit.rollback", err)
	}
	for i, raw := range s.snapshot {
		if err := s.tex.SetPixels(i, raw, s.original, core.FilterNice); err != nil {
			return apperrors.Wrap(apperrors.CategoryMutation, "fit.rollback", err)
		}
	}
	s.move(core.StateRolledBack, s.original, frame)
	return nil
}

// commit restores the original and then applies target once across the
// texture.
func (s *session) commit(target core.Format) error {
	if err := s.rollback(-1); err != nil {
		return err
	}
	if err := s.tex.SetFormat(target); err != nil {
		return apperrors.Wrap(apperrors.CategoryMutation, "fit.commit", err)
	}
	s.move(core.StateCommitted, target, -1)
	return nil
}

// abort makes a best effort to leave the texture as it was found.
func (s *session) abort() {
	if s.state == core.StateProbing {
		_ = s.rollback(-1)
	}
}
