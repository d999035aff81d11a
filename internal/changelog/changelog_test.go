package changelog_test

import (
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/strombase/strom/internal/changelog"
)

// recordAt builds a record with a fixed position so ordering assertions
// do not depend on the wall clock.
func recordAt(table string, t int64) changelog.Record {
	id, err := uuid.NewV7()
	Expect(err).ToNot(HaveOccurred())
	return changelog.Record{
		Kind:      changelog.Create,
		Table:     table,
		DataID:    uuid.New(),
		ChangeID:  id,
		UpdatedAt: t,
		Data:      []byte(`{}`),
	}
}

var _ = Describe("Log", func() {
	var log *changelog.Log

	BeforeEach(func() {
		var err error
		log, err = changelog.Open("changelog-test", vfs.NewMem())
		Expect(err).ToNot(HaveOccurred())
	})

	AfterEach(func() { Expect(log.Close()).To(Succeed()) })

	Describe("Append + Fetch", func() {
		It("Should return the appended record by change id", func() {
			rec, err := changelog.New(changelog.Create, "projects", uuid.New(), []byte(`{"name":"demo"}`))
			Expect(err).ToNot(HaveOccurred())
			Expect(log.Append(rec)).To(Succeed())
			got, found, err := log.Fetch(rec.ChangeID)
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(got).To(Equal(rec))
		})
		It("Should report an unknown change id as not found", func() {
			_, found, err := log.Fetch(uuid.New())
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeFalse())
		})
		It("Should supersede the previous change for the same row", func() {
			first := recordAt("projects", 100)
			second := first
			second.Kind = changelog.Update
			second.UpdatedAt = 200
			newID, err := uuid.NewV7()
			Expect(err).ToNot(HaveOccurred())
			second.ChangeID = newID
			Expect(log.Append(first)).To(Succeed())
			Expect(log.Append(second)).To(Succeed())

			_, found, err := log.Fetch(first.ChangeID)
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeFalse())
			ids, err := log.ChangesSince(changelog.Cursor{})
			Expect(err).ToNot(HaveOccurred())
			Expect(ids).To(Equal([]uuid.UUID{second.ChangeID}))
		})
	})

	Describe("ChangesSince", func() {
		var x, y, z changelog.Record

		BeforeEach(func() {
			x, y, z = recordAt("a", 100), recordAt("b", 200), recordAt("c", 300)
			Expect(log.Append(x)).To(Succeed())
			Expect(log.Append(y)).To(Succeed())
			Expect(log.Append(z)).To(Succeed())
		})

		It("Should list every change for the zero cursor in position order", func() {
			ids, err := log.ChangesSince(changelog.Cursor{})
			Expect(err).ToNot(HaveOccurred())
			Expect(ids).To(Equal([]uuid.UUID{x.ChangeID, y.ChangeID, z.ChangeID}))
		})
		It("Should exclude the cursor's own position", func() {
			ids, err := log.ChangesSince(x.Position())
			Expect(err).ToNot(HaveOccurred())
			Expect(ids).To(Equal([]uuid.UUID{y.ChangeID, z.ChangeID}))
		})
		It("Should return nothing past the newest change", func() {
			ids, err := log.ChangesSince(z.Position())
			Expect(err).ToNot(HaveOccurred())
			Expect(ids).To(BeEmpty())
		})
	})

	Describe("Watermark", func() {
		It("Should return the zero cursor for an empty log", func() {
			mark, err := log.Watermark()
			Expect(err).ToNot(HaveOccurred())
			Expect(mark.IsZero()).To(BeTrue())
		})
		It("Should return the newest change's position", func() {
			older, newer := recordAt("a", 100), recordAt("b", 200)
			Expect(log.Append(older)).To(Succeed())
			Expect(log.Append(newer)).To(Succeed())
			mark, err := log.Watermark()
			Expect(err).ToNot(HaveOccurred())
			Expect(mark).To(Equal(newer.Position()))
		})
	})

	Describe("Apply", func() {
		It("Should apply a record for an unknown row", func() {
			rec := recordAt("projects", 100)
			applied, err := log.Apply(rec)
			Expect(err).ToNot(HaveOccurred())
			Expect(applied).To(BeTrue())
			_, found, err := log.Fetch(rec.ChangeID)
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeTrue())
		})
		It("Should ignore a change id it has already applied", func() {
			rec := recordAt("projects", 100)
			applied, err := log.Apply(rec)
			Expect(err).ToNot(HaveOccurred())
			Expect(applied).To(BeTrue())
			applied, err = log.Apply(rec)
			Expect(err).ToNot(HaveOccurred())
			Expect(applied).To(BeFalse())
		})
		It("Should ignore a record older than the row's current state", func() {
			current := recordAt("projects", 200)
			stale := current
			stale.UpdatedAt = 100
			staleID, err := uuid.NewV7()
			Expect(err).ToNot(HaveOccurred())
			stale.ChangeID = staleID
			Expect(log.Append(current)).To(Succeed())
			applied, err := log.Apply(stale)
			Expect(err).ToNot(HaveOccurred())
			Expect(applied).To(BeFalse())
			ids, err := log.ChangesSince(changelog.Cursor{})
			Expect(err).ToNot(HaveOccurred())
			Expect(ids).To(Equal([]uuid.UUID{current.ChangeID}))
		})
		It("Should fold a newer record over the row's current state", func() {
			current := recordAt("projects", 100)
			newer := current
			newer.UpdatedAt = 200
			newerID, err := uuid.NewV7()
			Expect(err).ToNot(HaveOccurred())
			newer.ChangeID = newerID
			Expect(log.Append(current)).To(Succeed())
			applied, err := log.Apply(newer)
			Expect(err).ToNot(HaveOccurred())
			Expect(applied).To(BeTrue())
			got, found, err := log.Fetch(newer.ChangeID)
			Expect(err).ToNot(HaveOccurred())
			Expect(found).To(BeTrue())
			Expect(got.UpdatedAt).To(Equal(int64(200)))
		})
	})

	Describe("RemoteCursor", func() {
		It("Should return the zero cursor for an unknown remote", func() {
			c, err := log.RemoteCursor("localhost:1702")
			Expect(err).ToNot(HaveOccurred())
			Expect(c.IsZero()).To(BeTrue())
		})
		It("Should round trip a recorded cursor", func() {
			want := changelog.Cursor{Time: 300, ChangeID: uuid.New()}
			Expect(log.SetRemoteCursor("localhost:1702", want)).To(Succeed())
			got, err := log.RemoteCursor("localhost:1702")
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(Equal(want))
		})
		It("Should track cursors per remote independently", func() {
			a := changelog.Cursor{Time: 100, ChangeID: uuid.New()}
			b := changelog.Cursor{Time: 200, ChangeID: uuid.New()}
			Expect(log.SetRemoteCursor("localhost:1702", a)).To(Succeed())
			Expect(log.SetRemoteCursor("localhost:1703", b)).To(Succeed())
			got, err := log.RemoteCursor("localhost:1702")
			Expect(err).ToNot(HaveOccurred())
			Expect(got).To(Equal(a))
		})
	})
})

var _ = Describe("Cursor", func() {
	It("Should order by time first", func() {
		c := changelog.Cursor{Time: 100, ChangeID: uuid.New()}
		Expect(c.Before(200, uuid.Nil)).To(BeTrue())
		Expect(c.Before(50, uuid.Nil)).To(BeFalse())
	})
	It("Should break time ties on change id bytes", func() {
		low := uuid.UUID{1}
		high := uuid.UUID{2}
		c := changelog.Cursor{Time: 100, ChangeID: low}
		Expect(c.Before(100, high)).To(BeTrue())
		Expect(c.Before(100, low)).To(BeFalse())
	})
})
