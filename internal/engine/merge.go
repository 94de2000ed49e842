package engine

import (
	"gcalsync/internal/daterange"
	"gcalsync/internal/freebusy"
	"gcalsync/internal/intervaltree"
	"gcalsync/internal/model"
)

// Merge builds a time block for every busy span in fb.All that touches the
// window and attaches each appointment to every block containing it.
func Merge(fb freebusy.FreeBusy, appointments []*model.Appointment, window daterange.Range) *freebusy.Collection {
	out := freebusy.NewCollection()
	tree := intervaltree.New[*freebusy.TimeBlock]()

	for _, r := range fb.All {
		if !window.Overlaps(r) {
			continue
		}
		block, added := out.AddBlock(r)
		if added {
			tree.Insert(r, block)
		}
	}

	for _, appt := range appointments {
		for _, block := range tree.Find(appt.Range) {
			block.Appointments = append(block.Appointments, appt)
		}
		out.Appointments().Add(appt)
	}
	return out
}
