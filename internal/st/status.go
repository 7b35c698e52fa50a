package st

import "fmt"

// ObjectStatus describes the materialization state of one object.
type ObjectStatus struct {
	Path string
	Type ObjectType
	// SelfExpelled is the object's own flag; Expelled also accounts for
	// its ancestors.
	SelfExpelled bool
	Expelled     bool
	Materialized bool
	// Staged reports whether the object heads a subtree waiting for
	// cleanup.
	Staged bool
}

// Status returns the state of the object at rel and everything below it.
// Trash folders are skipped.
func (s *STService) Status(rel string) ([]*ObjectStatus, error) {
	s.logger.Debug("computing status", "path", rel)

	o, err := s.lookup(rel)
	if err != nil {
		return nil, err
	}
	path, err := s.dir.Resolve(o.SOID)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", rel, err)
	}
	above, err := s.expulsion.IsExpelled(path.Parent())
	if err != nil {
		return nil, err
	}

	entries, err := s.staging.Entries()
	if err != nil {
		return nil, fmt.Errorf("listing staged entries: %w", err)
	}
	staged := make(map[SOID]bool, len(entries))
	for _, e := range entries {
		staged[e.SOID] = true
	}

	expelled := make(map[SOID]bool)
	var out []*ObjectStatus
	err = Walk(s.dir, o, path, func(p ResolvedPath, n *Object) (bool, error) {
		if n.SOID.IsTrash() {
			return false, nil
		}
		parentExpelled := above
		if n.SOID != o.SOID {
			parentExpelled = expelled[p.Parent().SOID()]
		}
		expelled[n.SOID] = parentExpelled || n.Expelled

		out = append(out, &ObjectStatus{
			Path:         p.String(),
			Type:         n.Type,
			SelfExpelled: n.Expelled,
			Expelled:     expelled[n.SOID],
			Materialized: n.Materialized(),
			Staged:       staged[n.SOID],
		})
		return true, nil
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("walking %q: %w", rel, err)
	}
	return out, nil
}
