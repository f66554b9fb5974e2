package compare

import (
	"fmt"

	"github.com/Ning0612/dsync/internal/domain"
)

// Check validates the invariants a finished comparison pass must leave in
// the two stores of one rank. need is the set of compared fields.
func Check(src, dst *Store, need domain.FieldSet) error {
	for _, key := range src.Keys() {
		s, _ := src.Lookup(key)
		d, inDst := dst.Lookup(key)

		if !inDst {
			if s.States[domain.FieldExist] != domain.StateOnlySrc {
				return inconsistent(key, domain.FieldExist, "source-only entry is %s", s.States[domain.FieldExist])
			}
			for _, f := range domain.Fields()[1:] {
				if s.States[f] != domain.StateInit {
					return inconsistent(key, f, "source-only entry is %s", s.States[f])
				}
			}
			continue
		}

		if err := checkShared(key, s, d, need); err != nil {
			return err
		}
	}

	for _, key := range dst.Keys() {
		d, _ := dst.Lookup(key)
		if _, inSrc := src.Lookup(key); inSrc {
			continue
		}
		for _, f := range domain.Fields() {
			if d.States[f] != domain.StateInit {
				return inconsistent(key, f, "destination-only entry is %s", d.States[f])
			}
		}
	}
	return nil
}

func checkShared(key string, s, d Record, need domain.FieldSet) error {
	if s.States[domain.FieldExist] != domain.StateCommon || d.States[domain.FieldExist] != domain.StateCommon {
		return inconsistent(key, domain.FieldExist, "shared entry is %s/%s", s.States[domain.FieldExist], d.States[domain.FieldExist])
	}
	for _, f := range domain.Fields()[1:] {
		ss, ds := s.States[f], d.States[f]
		if ss != ds {
			return inconsistent(key, f, "sides disagree: %s/%s", ss, ds)
		}
		if need.Has(f) && ss != domain.StateCommon && ss != domain.StateDiffer {
			return inconsistent(key, f, "compared field left %s", ss)
		}
		if !need.Has(f) && ss != domain.StateInit {
			return inconsistent(key, f, "uncompared field set to %s", ss)
		}
	}
	return nil
}

func inconsistent(key string, f domain.Field, format string, args ...any) error {
	return fmt.Errorf("%w: %q %s: %s", domain.ErrInconsistentState, key, f, fmt.Sprintf(format, args...))
}
