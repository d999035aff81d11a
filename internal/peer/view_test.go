package peer_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/strombase/strom/internal/address"
	"github.com/strombase/strom/internal/peer"
)

func addrs(ps []peer.Peer) []address.Address {
	out := make([]address.Address, len(ps))
	for i, p := range ps {
		out[i] = p.Address
	}
	return out
}

var _ = Describe("View", func() {
	var host address.Address
	BeforeEach(func() { host = "localhost:1700" })

	Describe("NewView", func() {
		It("Should discard seed entries for the host itself", func() {
			v := peer.NewView(host, []peer.Peer{peer.New(host), peer.New("localhost:1701")})
			Expect(v.Len()).To(Equal(1))
		})
		It("Should discard duplicate seed addresses", func() {
			v := peer.NewView(host, []peer.Peer{
				peer.New("localhost:1701"),
				{Address: "localhost:1701", Age: 4},
			})
			Expect(v.Len()).To(Equal(1))
		})
	})

	Describe("Merge", func() {
		It("Should never grow beyond capacity", func() {
			v := peer.NewView(host, []peer.Peer{
				{Address: "localhost:1701", Age: 1},
				{Address: "localhost:1702", Age: 2},
				{Address: "localhost:1703", Age: 3},
			})
			v.Merge(3, 1, 1, []peer.Peer{
				peer.New("localhost:1704"),
				peer.New("localhost:1705"),
			})
			Expect(v.Len()).To(BeNumerically("<=", 3))
		})
		It("Should keep addresses unique", func() {
			v := peer.NewView(host, []peer.Peer{{Address: "localhost:1701", Age: 5}})
			v.Merge(3, 1, 1, []peer.Peer{{Address: "localhost:1701", Age: 0}})
			snap := v.Snapshot()
			Expect(snap).To(HaveLen(1))
			Expect(snap[0].Age).To(Equal(uint16(0)))
		})
		It("Should never insert the host itself", func() {
			v := peer.NewView(host, nil)
			v.Merge(3, 1, 1, []peer.Peer{peer.New(host)})
			Expect(v.Len()).To(Equal(0))
		})
		It("Should replace at most healing+swapping existing entries", func() {
			existing := []peer.Peer{
				{Address: "localhost:1701", Age: 9},
				{Address: "localhost:1702", Age: 1},
				{Address: "localhost:1703", Age: 1},
			}
			v := peer.NewView(host, existing)
			v.Merge(3, 1, 1, []peer.Peer{
				peer.New("localhost:1704"),
				peer.New("localhost:1705"),
			})
			snap := v.Snapshot()
			Expect(snap).To(HaveLen(3))
			survivors := 0
			for _, a := range addrs(snap) {
				for _, p := range existing {
					if p.Address == a {
						survivors++
					}
				}
			}
			Expect(3 - survivors).To(BeNumerically("<=", 2))
		})
		It("Should drop the oldest entry first under healing pressure", func() {
			v := peer.NewView(host, []peer.Peer{
				{Address: "localhost:1701", Age: 9},
				{Address: "localhost:1702", Age: 1},
			})
			v.Merge(2, 1, 0, []peer.Peer{peer.New("localhost:1703")})
			Expect(addrs(v.Snapshot())).NotTo(ContainElement(address.Address("localhost:1701")))
		})
	})

	Describe("SelectTarget", func() {
		It("Should report no target on an empty view", func() {
			v := peer.NewView(host, nil)
			_, ok := v.SelectTarget(true)
			Expect(ok).To(BeFalse())
		})
		It("Should prefer the oldest entry for push", func() {
			v := peer.NewView(host, []peer.Peer{
				{Address: "localhost:1701", Age: 2},
				{Address: "localhost:1702", Age: 7},
				{Address: "localhost:1703", Age: 4},
			})
			target, ok := v.SelectTarget(true)
			Expect(ok).To(BeTrue())
			Expect(target.Address).To(Equal(address.Address("localhost:1702")))
		})
		It("Should return a view member for pull", func() {
			v := peer.NewView(host, []peer.Peer{
				{Address: "localhost:1701", Age: 2},
				{Address: "localhost:1702", Age: 7},
			})
			target, ok := v.SelectTarget(false)
			Expect(ok).To(BeTrue())
			Expect(addrs(v.Snapshot())).To(ContainElement(target.Address))
		})
	})

	Describe("Aging", func() {
		It("Should increment every entry on Tick", func() {
			v := peer.NewView(host, []peer.Peer{
				peer.New("localhost:1701"),
				{Address: "localhost:1702", Age: 3},
			})
			v.Tick()
			for _, p := range v.Snapshot() {
				Expect(p.Age).To(BeNumerically(">", 0))
			}
		})
		It("Should saturate at the maximum age instead of wrapping", func() {
			v := peer.NewView(host, []peer.Peer{{Address: "localhost:1701", Age: math.MaxUint16}})
			v.Tick()
			Expect(v.Snapshot()[0].Age).To(Equal(uint16(math.MaxUint16)))
		})
		It("Should reset the age of a contacted peer to zero", func() {
			v := peer.NewView(host, []peer.Peer{{Address: "localhost:1701", Age: 12}})
			v.Contacted("localhost:1701")
			Expect(v.Snapshot()[0].Age).To(Equal(uint16(0)))
		})
	})

	Describe("SampleHead", func() {
		It("Should cap the sample at the view length", func() {
			v := peer.NewView(host, []peer.Peer{peer.New("localhost:1701")})
			Expect(v.SampleHead(15)).To(HaveLen(1))
		})
		It("Should place the oldest entries at the tail of the view", func() {
			v := peer.NewView(host, []peer.Peer{
				{Address: "localhost:1701", Age: 9},
				{Address: "localhost:1702", Age: 0},
				{Address: "localhost:1703", Age: 0},
			})
			head := v.SampleHead(2)
			Expect(addrs(head)).NotTo(ContainElement(address.Address("localhost:1701")))
		})
	})
})
