package strom_test

import (
	"context"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	log "github.com/sirupsen/logrus"
	"github.com/strombase/strom"
	"github.com/strombase/strom/internal/changelog"
	"github.com/strombase/strom/internal/propagate"
	"github.com/strombase/strom/internal/sampling"
	"github.com/strombase/strom/mock"
)

func fastReplication() []strom.Option {
	return []strom.Option{
		strom.WithSampling(sampling.Config{
			Period:          20 * time.Millisecond,
			PeriodDeviation: 5 * time.Millisecond,
		}),
		strom.WithPropagation(propagate.Config{
			Period:          30 * time.Millisecond,
			PeriodDeviation: 10 * time.Millisecond,
		}),
	}
}

func holds(g *strom.Gossip, id uuid.UUID) func() bool {
	return func() bool {
		_, found, err := g.Log().Fetch(id)
		Expect(err).ToNot(HaveOccurred())
		return found
	}
}

var _ = Describe("Replication", Serial, func() {
	var (
		ctx     context.Context
		cancel  context.CancelFunc
		builder *mock.Builder
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		builder = mock.NewBuilder(fastReplication()...)
	})

	AfterEach(func() {
		Expect(builder.Close()).To(Succeed())
		cancel()
	})

	It("Should replicate a recorded change to every node", func() {
		log.Info("recording a change on the first of three nodes")
		first, err := builder.New(ctx)
		Expect(err).ToNot(HaveOccurred())
		second, err := builder.New(ctx)
		Expect(err).ToNot(HaveOccurred())
		third, err := builder.New(ctx)
		Expect(err).ToNot(HaveOccurred())

		rec, err := first.Record(ctx, changelog.Create, "projects", uuid.New(), []byte(`{"name":"demo"}`))
		Expect(err).ToNot(HaveOccurred())

		Eventually(holds(second, rec.ChangeID)).WithTimeout(5 * time.Second).Should(BeTrue())
		Eventually(holds(third, rec.ChangeID)).WithTimeout(5 * time.Second).Should(BeTrue())

		got, found, err := third.Log().Fetch(rec.ChangeID)
		Expect(err).ToNot(HaveOccurred())
		Expect(found).To(BeTrue())
		Expect(got).To(Equal(rec))
	})

	It("Should catch a late joiner up on the existing log", func() {
		first, err := builder.New(ctx)
		Expect(err).ToNot(HaveOccurred())
		rec, err := first.Record(ctx, changelog.Update, "projects", uuid.New(), []byte(`{"name":"later"}`))
		Expect(err).ToNot(HaveOccurred())

		joiner, err := builder.New(ctx)
		Expect(err).ToNot(HaveOccurred())
		Eventually(holds(joiner, rec.ChangeID)).WithTimeout(5 * time.Second).Should(BeTrue())
	})

	It("Should converge a change kept only in one node's log", func() {
		first, err := builder.New(ctx)
		Expect(err).ToNot(HaveOccurred())
		second, err := builder.New(ctx)
		Expect(err).ToNot(HaveOccurred())

		// Bypass broadcast so only the periodic anti-entropy rounds can
		// move the change.
		rec, err := changelog.New(changelog.Create, "records", uuid.New(), []byte(`{}`))
		Expect(err).ToNot(HaveOccurred())
		Expect(first.Log().Append(rec)).To(Succeed())

		Eventually(holds(second, rec.ChangeID)).WithTimeout(5 * time.Second).Should(BeTrue())
	})

	It("Should apply concurrent writers' changes on every node", func() {
		first, err := builder.New(ctx)
		Expect(err).ToNot(HaveOccurred())
		second, err := builder.New(ctx)
		Expect(err).ToNot(HaveOccurred())

		recA, err := first.Record(ctx, changelog.Create, "projects", uuid.New(), []byte(`{"n":1}`))
		Expect(err).ToNot(HaveOccurred())
		recB, err := second.Record(ctx, changelog.Create, "projects", uuid.New(), []byte(`{"n":2}`))
		Expect(err).ToNot(HaveOccurred())

		Eventually(holds(first, recB.ChangeID)).WithTimeout(5 * time.Second).Should(BeTrue())
		Eventually(holds(second, recA.ChangeID)).WithTimeout(5 * time.Second).Should(BeTrue())
	})
})
