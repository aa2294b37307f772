package bridge_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/simbridge/internal/bridge"
	"github.com/san-kum/simbridge/internal/errs"
	"github.com/san-kum/simbridge/internal/integrators"
	"github.com/san-kum/simbridge/internal/statestore"
	"github.com/san-kum/simbridge/internal/step"
)

var _ = Describe("Bridge", func() {
	var (
		ctx  context.Context
		host *fakeHost
	)

	BeforeEach(func() {
		ctx = context.Background()
		host = &fakeHost{}
	})

	newBridge := func(s step.Step, opts ...bridge.Option) *bridge.Bridge {
		b, err := bridge.New(ctx, host, s, opts...)
		Expect(err).NotTo(HaveOccurred())
		return b
	}

	Describe("construction", func() {
		It("announces readiness exactly once before returning", func() {
			b := newBridge(step.Noop{})

			ready, results, closed := host.counts()
			Expect(ready).To(Equal(1))
			Expect(results).To(BeZero())
			Expect(closed).To(BeZero())
			Expect(host.ref).To(BeIdenticalTo(b))
			Expect(b.Phase()).To(Equal(bridge.PhaseReady))
		})

		It("advertises the integrator capability", func() {
			b := newBridge(step.Noop{}, bridge.WithID("integrator-1"))

			Expect(b.ID()).To(Equal("integrator-1"))
			Expect(b.Implements()).To(ContainElement(bridge.InterfaceName))
		})

		It("generates distinct ids", func() {
			a := newBridge(step.Noop{})
			b := newBridge(step.Noop{})
			Expect(a.ID()).NotTo(BeEmpty())
			Expect(a.ID()).NotTo(Equal(b.ID()))
		})

		It("fails with a handshake error when the host is unreachable", func() {
			host.onReady = func(context.Context, bridge.Integrator) error {
				return errors.New("connection refused")
			}

			b, err := bridge.New(ctx, host, step.Noop{})
			Expect(b).To(BeNil())
			Expect(err).To(MatchError(errs.ErrHandshake))

			_, _, closed := host.counts()
			Expect(closed).To(Equal(1))
		})

		It("fails with a timeout when the host never acknowledges", func() {
			host.onReady = func(ctx context.Context, _ bridge.Integrator) error {
				<-ctx.Done()
				return ctx.Err()
			}

			_, err := bridge.New(ctx, host, step.Noop{}, bridge.WithHandshakeTimeout(20*time.Millisecond))
			Expect(err).To(MatchError(errs.ErrTimeout))
		})

		It("keeps the bridge uncallable until the handshake completes", func() {
			var inner error
			host.onReady = func(ctx context.Context, ref bridge.Integrator) error {
				callCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
				defer cancel()
				inner = ref.AddState(callCtx, "x", 1.0)
				return nil
			}

			b := newBridge(step.Noop{})
			Expect(inner).To(MatchError(errs.ErrNotReady))

			_, err := b.GetState(ctx, "x")
			Expect(err).To(MatchError(errs.ErrNotFound))
		})

		It("panics on nil wiring", func() {
			Expect(func() { _, _ = bridge.New(ctx, nil, step.Noop{}) }).To(Panic())
			Expect(func() { _, _ = bridge.New(ctx, host, nil) }).To(Panic())
		})
	})

	Describe("state", func() {
		It("returns the last value written", func() {
			b := newBridge(step.Noop{})
			for _, v := range []float64{1.0, 2.5, -3.0} {
				Expect(b.AddState(ctx, "x", v)).To(Succeed())
			}

			v, err := b.GetState(ctx, "x")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(-3.0))
		})

		It("fails with not found for a name never added", func() {
			b := newBridge(step.Noop{})

			_, err := b.GetState(ctx, "missing")
			Expect(err).To(MatchError(errs.ErrNotFound))
		})

		It("returns a snapshot of every state", func() {
			b := newBridge(step.Noop{})
			Expect(b.AddState(ctx, "v1", 0.1)).To(Succeed())
			Expect(b.AddState(ctx, "v2", 0.2)).To(Succeed())

			all, err := b.GetStates(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(all).To(HaveLen(2))

			all["v1"] = 42.0
			v, _ := b.GetState(ctx, "v1")
			Expect(v).To(Equal(0.1))
		})

		It("does not share state between instances", func() {
			a := newBridge(step.Noop{})
			b := newBridge(step.Noop{})
			Expect(a.AddState(ctx, "x", 1.0)).To(Succeed())

			_, err := b.GetState(ctx, "x")
			Expect(err).To(MatchError(errs.ErrNotFound))
		})
	})

	Describe("integration", func() {
		It("applies the reference step once per pass", func() {
			b := newBridge(step.Increment{Delta: 0.1})
			Expect(b.AddState(ctx, "x", 1.0)).To(Succeed())

			Expect(b.RunIntegration(ctx)).To(Succeed())
			v, err := b.GetState(ctx, "x")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(BeNumerically("~", 1.1, 1e-9))

			Expect(b.RunIntegration(ctx)).To(Succeed())
			v, _ = b.GetState(ctx, "x")
			Expect(v).To(BeNumerically("~", 1.2, 1e-9))

			Expect(b.Passes()).To(Equal(2))
			Expect(b.Phase()).To(Equal(bridge.PhaseCompleted))
			_, results, _ := host.counts()
			Expect(results).To(Equal(2))
		})

		It("notifies once when the step also signals completion", func() {
			b := newBridge(step.Chain(step.Increment{Delta: 0.1}, step.Base{}))
			Expect(b.AddState(ctx, "x", 1.0)).To(Succeed())

			Expect(b.RunIntegration(ctx)).To(Succeed())
			_, results, _ := host.counts()
			Expect(results).To(Equal(1))
		})

		It("ignores repeated signals within one pass", func() {
			var second error
			b := newBridge(step.Func(func(ctx context.Context, _ *statestore.Store, done step.Completion) error {
				Expect(done.Signal(ctx)).To(Succeed())
				second = done.Signal(ctx)
				return nil
			}))

			Expect(b.RunIntegration(ctx)).To(Succeed())
			Expect(second).NotTo(HaveOccurred())
			_, results, _ := host.counts()
			Expect(results).To(Equal(1))
		})

		It("lets the host read state from inside resultsReady", func() {
			var seen any
			host.onResults = func(ctx context.Context) error {
				var err error
				seen, err = host.ref.GetState(ctx, "x")
				return err
			}
			b := newBridge(step.Increment{Delta: 0.1})
			Expect(b.AddState(ctx, "x", 1.0)).To(Succeed())

			Expect(b.RunIntegration(ctx)).To(Succeed())
			Expect(seen).To(BeNumerically("~", 1.1, 1e-9))
		})

		Context("when the step fails", func() {
			boom := errors.New("boom")
			var calls int

			failOnce := func() step.Step {
				calls = 0
				return step.Func(func(ctx context.Context, s *statestore.Store, done step.Completion) error {
					calls++
					if calls == 1 {
						return boom
					}
					return step.Increment{Delta: 0.1}.Integrate(ctx, s, done)
				})
			}

			It("withholds resultsReady and stays usable", func() {
				b := newBridge(failOnce())
				Expect(b.AddState(ctx, "x", 1.0)).To(Succeed())

				err := b.RunIntegration(ctx)
				Expect(err).To(MatchError(errs.ErrIntegration))
				Expect(errors.Is(err, boom)).To(BeTrue())
				_, results, _ := host.counts()
				Expect(results).To(BeZero())
				Expect(b.Phase()).To(Equal(bridge.PhaseReady))

				Expect(b.RunIntegration(ctx)).To(Succeed())
				v, _ := b.GetState(ctx, "x")
				Expect(v).To(BeNumerically("~", 1.1, 1e-9))
				_, results, _ = host.counts()
				Expect(results).To(Equal(1))
			})

			It("withholds resultsReady the step requested before failing", func() {
				b := newBridge(step.Func(func(ctx context.Context, _ *statestore.Store, done step.Completion) error {
					Expect(done.Signal(ctx)).To(Succeed())
					return boom
				}))

				Expect(b.RunIntegration(ctx)).To(MatchError(errs.ErrIntegration))
				_, results, _ := host.counts()
				Expect(results).To(BeZero())
			})

			It("still signals when best-effort results are enabled", func() {
				b := newBridge(failOnce(), bridge.WithBestEffortResults(true))

				Expect(b.RunIntegration(ctx)).To(MatchError(errs.ErrIntegration))
				_, results, _ := host.counts()
				Expect(results).To(Equal(1))
			})
		})

		It("fails with a timeout when resultsReady is never acknowledged", func() {
			host.onResults = func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			}
			b := newBridge(step.Noop{}, bridge.WithCompletionTimeout(20*time.Millisecond))

			Expect(b.RunIntegration(ctx)).To(MatchError(errs.ErrTimeout))
			Expect(b.Phase()).To(Equal(bridge.PhaseReady))
		})

		It("keeps an addState acknowledged during a dynamics pass", func() {
			sys := &gatedSystem{entered: make(chan struct{}), release: make(chan struct{})}
			b := newBridge(&step.Dynamics{System: sys, Integrator: integrators.NewEuler(), Dt: 1})
			Expect(b.AddState(ctx, "x", 1.0)).To(Succeed())

			runErr := make(chan error, 1)
			go func() { runErr <- b.RunIntegration(ctx) }()
			<-sys.entered

			addErr := make(chan error, 1)
			go func() { addErr <- b.AddState(ctx, "x", 5.0) }()
			Consistently(addErr, 50*time.Millisecond).ShouldNot(Receive())

			close(sys.release)
			Eventually(runErr).Should(Receive(BeNil()))
			Eventually(addErr).Should(Receive(BeNil()))

			v, err := b.GetState(ctx, "x")
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(5.0))
		})

		It("tolerates addState calls racing with passes", func() {
			b := newBridge(step.Increment{Delta: 1})
			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					defer GinkgoRecover()
					for j := 0; j < 25; j++ {
						Expect(b.AddState(ctx, "y", float64(j))).To(Succeed())
						Expect(b.RunIntegration(ctx)).To(Succeed())
					}
				}()
			}
			wg.Wait()
			Expect(b.Passes()).To(Equal(100))
		})
	})

	Describe("stopScript", func() {
		It("releases the host once and rejects every later call", func() {
			b := newBridge(step.Noop{})
			Expect(b.AddState(ctx, "x", 1.0)).To(Succeed())
			Expect(b.StopScript(ctx)).To(Succeed())
			Expect(b.Phase()).To(Equal(bridge.PhaseStopped))

			Expect(b.AddState(ctx, "x", 2.0)).To(MatchError(errs.ErrAlreadyStopped))
			_, err := b.GetState(ctx, "x")
			Expect(err).To(MatchError(errs.ErrAlreadyStopped))
			_, err = b.GetStates(ctx)
			Expect(err).To(MatchError(errs.ErrAlreadyStopped))
			Expect(b.RunIntegration(ctx)).To(MatchError(errs.ErrAlreadyStopped))
			Expect(b.StopScript(ctx)).To(MatchError(errs.ErrAlreadyStopped))

			_, _, closed := host.counts()
			Expect(closed).To(Equal(1))
		})

		It("reports already stopped even when the caller's context is done", func() {
			b := newBridge(step.Noop{})
			Expect(b.StopScript(ctx)).To(Succeed())

			canceled, cancel := context.WithCancel(ctx)
			cancel()
			for i := 0; i < 100; i++ {
				Expect(b.AddState(canceled, "x", 1.0)).To(MatchError(errs.ErrAlreadyStopped))
				_, err := b.GetState(canceled, "x")
				Expect(err).To(MatchError(errs.ErrAlreadyStopped))
				_, err = b.GetStates(canceled)
				Expect(err).To(MatchError(errs.ErrAlreadyStopped))
				Expect(b.RunIntegration(canceled)).To(MatchError(errs.ErrAlreadyStopped))
				Expect(b.StopScript(canceled)).To(MatchError(errs.ErrAlreadyStopped))
			}
		})

		It("waits for an in-flight pass", func() {
			started := make(chan struct{})
			release := make(chan struct{})
			b := newBridge(step.Func(func(context.Context, *statestore.Store, step.Completion) error {
				close(started)
				<-release
				return nil
			}))

			runErr := make(chan error, 1)
			go func() { runErr <- b.RunIntegration(ctx) }()
			<-started

			stopErr := make(chan error, 1)
			go func() { stopErr <- b.StopScript(ctx) }()
			Consistently(stopErr, 50*time.Millisecond).ShouldNot(Receive())

			close(release)
			Eventually(runErr).Should(Receive(BeNil()))
			Eventually(stopErr).Should(Receive(BeNil()))
		})
	})
})

var _ = Describe("Phase", func() {
	DescribeTable("String",
		func(p bridge.Phase, want string) {
			Expect(p.String()).To(Equal(want))
		},
		Entry("uninitialized", bridge.PhaseUninitialized, "uninitialized"),
		Entry("ready", bridge.PhaseReady, "ready"),
		Entry("running", bridge.PhaseRunning, "running"),
		Entry("completed", bridge.PhaseCompleted, "completed"),
		Entry("stopped", bridge.PhaseStopped, "stopped"),
		Entry("unknown", bridge.Phase(42), "unknown"),
	)
})
