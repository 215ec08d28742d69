package grid

import (
	"encoding/csv"
	"fmt"
	"os"

	core "github.com/supplyetl/core"
)

func openCSV(path string) ([]Candidate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.WrapKind(core.KindUnreadable, fmt.Errorf("%w: %v", core.ErrUnreadable, err))
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, core.WrapKind(core.KindUnreadable, fmt.Errorf("%w: %v", core.ErrUnreadable, err))
	}
	if len(rows) == 0 {
		return nil, core.WrapKind(core.KindUnreadable, fmt.Errorf("%w: empty csv", core.ErrUnreadable))
	}
	return []Candidate{{Name: "sheet1", Rows: rows}}, nil
}
