package freebusy

import (
	"slices"
	"time"

	"gcalsync/internal/daterange"
	"gcalsync/internal/intervaltree"
	"gcalsync/internal/model"
)

// FreeBusy is a user's published availability split by status. All holds
// the spans that count as busy when merging with appointments.
type FreeBusy struct {
	All         []daterange.Range
	Busy        []daterange.Range
	Tentative   []daterange.Range
	OutOfOffice []daterange.Range
}

// Condensed returns a copy with every list condensed.
func (fb FreeBusy) Condensed() FreeBusy {
	return FreeBusy{
		All:         Condense(fb.All),
		Busy:        Condense(fb.Busy),
		Tentative:   Condense(fb.Tentative),
		OutOfOffice: Condense(fb.OutOfOffice),
	}
}

// TimeBlock is a busy span with the appointments known to fall inside it.
// No appointments means the span is busy but its details are unknown.
type TimeBlock struct {
	Range        daterange.Range
	Appointments []*model.Appointment
}

// Collection is the merged view for one user: time blocks keyed by start
// and every appointment looked up for the window.
type Collection struct {
	blocks       map[time.Time]*TimeBlock
	appointments *AppointmentIndex
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{
		blocks:       make(map[time.Time]*TimeBlock),
		appointments: NewAppointmentIndex(),
	}
}

// AddBlock adds a block for r unless one already starts at r.Start, in
// which case the existing block is returned and added is false.
func (c *Collection) AddBlock(r daterange.Range) (block *TimeBlock, added bool) {
	key := r.Start.UTC()
	if b, ok := c.blocks[key]; ok {
		return b, false
	}
	b := &TimeBlock{Range: r}
	c.blocks[key] = b
	return b, true
}

// Block returns the block starting at start, if any.
func (c *Collection) Block(start time.Time) (*TimeBlock, bool) {
	b, ok := c.blocks[start.UTC()]
	return b, ok
}

// Blocks returns all blocks ordered by start.
func (c *Collection) Blocks() []*TimeBlock {
	out := make([]*TimeBlock, 0, len(c.blocks))
	for _, b := range c.blocks {
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b *TimeBlock) int {
		return a.Range.Start.Compare(b.Range.Start)
	})
	return out
}

// Len is the number of blocks.
func (c *Collection) Len() int {
	return len(c.blocks)
}

// Appointments indexes every appointment of the window, including those
// outside any block.
func (c *Collection) Appointments() *AppointmentIndex {
	return c.appointments
}

// AppointmentIndex finds appointments by their exact range.
type AppointmentIndex struct {
	tree *intervaltree.Tree[*model.Appointment]
}

// NewAppointmentIndex returns an empty index.
func NewAppointmentIndex() *AppointmentIndex {
	return &AppointmentIndex{tree: intervaltree.New[*model.Appointment]()}
}

// Add indexes a under its range. Several appointments may share a range.
func (idx *AppointmentIndex) Add(a *model.Appointment) {
	idx.tree.Insert(a.Range, a)
}

// Get returns every appointment whose range equals r.
func (idx *AppointmentIndex) Get(r daterange.Range) []*model.Appointment {
	return idx.tree.FindAll(r, intervaltree.Exact)
}

// All returns the indexed appointments ordered by start.
func (idx *AppointmentIndex) All() []*model.Appointment {
	return idx.tree.Values()
}

// Len is the number of indexed appointments.
func (idx *AppointmentIndex) Len() int {
	return idx.tree.Len()
}
