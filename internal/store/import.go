package store

import (
	"errors"
	"fmt"
	"strings"

	"robots-backend/internal/errs"
	"robots-backend/internal/model"
	"robots-backend/internal/transfer"
	"robots-backend/internal/validation"
)

type importEntry struct {
	id       string
	input    model.RobotInput
	archived bool
}

// prepareImport normalises and validates every entry of doc before any
// write. Entries with an empty name are dropped. The first invalid entry
// aborts the whole import.
func prepareImport(v *validation.Validator, doc transfer.Document) ([]importEntry, error) {
	entries := make([]importEntry, 0, len(doc.Robots))
	for i, e := range doc.Robots {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}

		prefix := fmt.Sprintf("robots[%d]", i)
		year, err := v.IntegerYear(e.Year)
		if err != nil {
			return nil, prefixed(prefix, err)
		}

		robotType := e.Type
		if robotType == "" {
			robotType = model.TypeOther
		}

		in := model.RobotInput{Name: name, Label: e.Label, Year: year, Type: robotType}.Normalized()
		if err := v.Robot(in); err != nil {
			return nil, prefixed(prefix, err)
		}
		entries = append(entries, importEntry{id: e.ID, input: in, archived: e.Archived})
	}
	return entries, nil
}

func prefixed(prefix string, err error) error {
	var verr *errs.ValidationError
	if errors.As(err, &verr) {
		return verr.Prefixed(prefix)
	}
	return err
}

// pickMatch chooses which same-name robot an entry updates: the one with the
// entry's id, else one with the same archived state, else the lowest id.
// It returns -1 when candidates is empty.
func pickMatch(candidates []model.Robot, e importEntry) int {
	best := -1
	for i, r := range candidates {
		if best < 0 || matchRank(r, e) < matchRank(candidates[best], e) ||
			(matchRank(r, e) == matchRank(candidates[best], e) && r.ID < candidates[best].ID) {
			best = i
		}
	}
	return best
}

func matchRank(r model.Robot, e importEntry) int {
	switch {
	case e.id != "" && r.ID == e.id:
		return 0
	case r.Archived == e.archived:
		return 1
	default:
		return 2
	}
}
