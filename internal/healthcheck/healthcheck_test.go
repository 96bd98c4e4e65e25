package healthcheck_test

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/healthprobe/config"
	"github.com/angeloszaimis/healthprobe/internal/healthcheck"
	"github.com/angeloszaimis/healthprobe/pkg/logger"
)

var _ = Describe("Probe", func() {
	var (
		server  *httptest.Server
		logBuf  *bytes.Buffer
		cfg     config.ProbeConfig
		checker *healthcheck.Probe
		ctx     context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		logBuf = &bytes.Buffer{}

		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.HandleFunc("/status/", func(w http.ResponseWriter, r *http.Request) {
			code, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/status/"))
			if err != nil {
				code = http.StatusTeapot
			}
			w.WriteHeader(code)
		})
		mux.HandleFunc("/moved", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, "/health", http.StatusFound)
		})
		mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(300 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		})
		mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet || r.ContentLength > 0 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			w.WriteHeader(http.StatusOK)
		})
		server = httptest.NewServer(mux)

		host, port := splitURL(server.URL)
		cfg = config.ProbeConfig{Host: host, Port: port, Path: "/health", Timeout: "2s"}
		checker = healthcheck.New(cfg, logger.New(logBuf, "info", "text", "dev"))
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("New", func() {
		It("should take its defaults from config", func() {
			Expect(checker.Default()).To(Equal(healthcheck.Target{
				Host: cfg.Host,
				Port: cfg.Port,
				Path: "/health",
			}))
		})

		It("should use the supplied client", func() {
			var requested string
			client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
				requested = r.URL.String()
				return &http.Response{
					StatusCode: http.StatusOK,
					Body:       http.NoBody,
					Request:    r,
				}, nil
			})}
			p := healthcheck.New(config.ProbeConfig{Host: "service", Port: 5000, Path: "/health"}, nil, healthcheck.WithClient(client))

			result, err := p.Check(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Healthy()).To(BeTrue())
			Expect(requested).To(Equal("http://service:5000/health"))
		})

		It("should default the path to /health", func() {
			cfg.Path = ""
			p := healthcheck.New(cfg, nil)
			Expect(p.Default().Path).To(Equal(healthcheck.DefaultPath))
		})
	})

	Describe("Check", func() {
		Context("when the endpoint returns 200", func() {
			It("should report healthy", func() {
				result, err := checker.Check(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Healthy()).To(BeTrue())
				Expect(result.StatusCode).To(Equal(http.StatusOK))
				Expect(result.Unreachable).To(BeNil())
			})

			It("should log exactly one passed line", func() {
				_, err := checker.Check(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(logBuf.String()).To(ContainSubstring(`msg="Healthcheck passed"`))
				Expect(strings.Count(logBuf.String(), "\n")).To(Equal(1))
			})

			It("should send a plain GET", func() {
				result, err := checker.Check(ctx, healthcheck.WithPath("/echo"))
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Healthy()).To(BeTrue())
			})
		})

		DescribeTable("when the endpoint returns another status",
			func(code int) {
				result, err := checker.Check(ctx, healthcheck.WithPath("/status/"+strconv.Itoa(code)))
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Outcome).To(Equal(healthcheck.Unhealthy))
				Expect(result.StatusCode).To(Equal(code))
				Expect(logBuf.String()).To(ContainSubstring(`msg="Healthcheck failed"`))
			},
			Entry("201 Created", http.StatusCreated),
			Entry("204 No Content", http.StatusNoContent),
			Entry("400 Bad Request", http.StatusBadRequest),
			Entry("404 Not Found", http.StatusNotFound),
			Entry("500 Internal Server Error", http.StatusInternalServerError),
			Entry("503 Service Unavailable", http.StatusServiceUnavailable),
		)

		It("should not follow redirects", func() {
			result, err := checker.Check(ctx, healthcheck.WithPath("/moved"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(healthcheck.Unhealthy))
			Expect(result.StatusCode).To(Equal(http.StatusFound))
		})

		It("should report unhealthy for a missing path", func() {
			result, err := checker.Check(ctx, healthcheck.WithPath("/invalid_endpoint"))
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Outcome).To(Equal(healthcheck.Unhealthy))
			Expect(result.StatusCode).To(Equal(http.StatusNotFound))
		})

		Context("when nothing listens on the port", func() {
			It("should report unhealthy without an error", func() {
				port := closedPort()

				result, err := checker.Check(ctx, healthcheck.WithHost("127.0.0.1"), healthcheck.WithPort(port))
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Outcome).To(Equal(healthcheck.Unhealthy))
				Expect(result.StatusCode).To(BeZero())
				Expect(result.Unreachable).To(HaveOccurred())
				Expect(logBuf.String()).To(ContainSubstring(`msg="Healthcheck failed"`))
				Expect(strings.Count(logBuf.String(), "\n")).To(Equal(1))
			})
		})

		Context("when the host cannot be resolved", func() {
			It("should report unhealthy without an error", func() {
				result, err := checker.Check(ctx, healthcheck.WithHost("whatever-host.invalid"))
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Outcome).To(Equal(healthcheck.Unhealthy))
				Expect(result.Unreachable).To(HaveOccurred())
			})
		})

		Context("when the endpoint is slower than the timeout", func() {
			It("should report unhealthy without an error", func() {
				cfg.Timeout = "50ms"
				p := healthcheck.New(cfg, logger.New(logBuf, "info", "text", "dev"))

				result, err := p.Check(ctx, healthcheck.WithPath("/slow"))
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Outcome).To(Equal(healthcheck.Unhealthy))
				Expect(result.Unreachable).To(HaveOccurred())
			})
		})

		DescribeTable("when the connection drops before a response",
			func(reset bool) {
				port := hangupServer(reset)

				result, err := checker.Check(ctx, healthcheck.WithHost("127.0.0.1"), healthcheck.WithPort(port))
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Outcome).To(Equal(healthcheck.Unhealthy))
				Expect(result.StatusCode).To(BeZero())
				Expect(result.Unreachable).To(HaveOccurred())
				Expect(logBuf.String()).To(ContainSubstring(`msg="Healthcheck failed"`))
				Expect(strings.Count(logBuf.String(), "\n")).To(Equal(1))
			},
			Entry("closed cleanly", false),
			Entry("reset", true),
		)

		Context("when the response is not HTTP", func() {
			It("should return the error without a verdict", func() {
				port := garbageServer()

				_, err := checker.Check(ctx, healthcheck.WithHost("127.0.0.1"), healthcheck.WithPort(port))
				Expect(err).To(HaveOccurred())
				Expect(healthcheck.IsUnreachable(err)).To(BeFalse())
				Expect(logBuf.String()).To(BeEmpty())
			})
		})

		Context("when the caller cancels", func() {
			It("should return the cancellation", func() {
				cancelled, cancel := context.WithCancel(ctx)
				cancel()

				_, err := checker.Check(cancelled)
				Expect(err).To(MatchError(context.Canceled))
				Expect(logBuf.String()).To(BeEmpty())
			})
		})

		DescribeTable("with an invalid target",
			func(opt healthcheck.Option) {
				_, err := checker.Check(ctx, opt)
				Expect(err).To(MatchError(healthcheck.ErrInvalidTarget))
				Expect(logBuf.String()).To(BeEmpty())
			},
			Entry("port zero", healthcheck.WithPort(0)),
			Entry("port above range", healthcheck.WithPort(65536)),
			Entry("empty host", healthcheck.WithHost("")),
			Entry("host with scheme", healthcheck.WithHost("http://localhost")),
			Entry("relative path", healthcheck.WithPath("health")),
		)
	})

	Describe("Target", func() {
		It("should build the URL", func() {
			t := healthcheck.Target{Host: "localhost", Port: 5000, Path: "/health"}
			Expect(t.URL()).To(Equal("http://localhost:5000/health"))
		})

		It("should bracket IPv6 hosts", func() {
			t := healthcheck.Target{Host: "::1", Port: 5000, Path: "/health"}
			Expect(t.URL()).To(Equal("http://[::1]:5000/health"))
		})

		It("should only override the given fields", func() {
			t := healthcheck.Target{Host: "localhost", Port: 5000, Path: "/health"}
			healthcheck.WithPort(8088)(&t)
			Expect(t).To(Equal(healthcheck.Target{Host: "localhost", Port: 8088, Path: "/health"}))
		})
	})

	Describe("Outcome", func() {
		It("should map healthy to exit 0", func() {
			Expect(healthcheck.Healthy.ExitCode()).To(Equal(0))
			Expect(healthcheck.Healthy.Message()).To(Equal("Healthcheck passed"))
			Expect(healthcheck.Healthy.String()).To(Equal("healthy"))
		})

		It("should map unhealthy to exit 1", func() {
			Expect(healthcheck.Unhealthy.ExitCode()).To(Equal(1))
			Expect(healthcheck.Unhealthy.Message()).To(Equal("Healthcheck failed"))
			Expect(healthcheck.Unhealthy.String()).To(Equal("unhealthy"))
		})
	})

	Describe("IsUnreachable", func() {
		It("should recognise lookup failures", func() {
			err := &url.Error{Op: "Get", URL: "http://x", Err: &net.DNSError{Err: "no such host", Name: "x"}}
			Expect(healthcheck.IsUnreachable(err)).To(BeTrue())
		})

		It("should recognise dial failures", func() {
			err := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
			Expect(healthcheck.IsUnreachable(err)).To(BeTrue())
		})

		It("should recognise a connection closed by the peer", func() {
			err := &url.Error{Op: "Get", URL: "http://x", Err: io.EOF}
			Expect(healthcheck.IsUnreachable(err)).To(BeTrue())
			Expect(healthcheck.IsUnreachable(io.ErrUnexpectedEOF)).To(BeTrue())
		})

		It("should recognise a connection reset by the peer", func() {
			err := &net.OpError{Op: "read", Net: "tcp", Err: os.NewSyscallError("read", syscall.ECONNRESET)}
			Expect(healthcheck.IsUnreachable(err)).To(BeTrue())
		})

		It("should reject other read failures", func() {
			err := &net.OpError{Op: "read", Net: "tcp", Err: errors.New("malformed chunk")}
			Expect(healthcheck.IsUnreachable(err)).To(BeFalse())
		})

		It("should reject other errors", func() {
			Expect(healthcheck.IsUnreachable(nil)).To(BeFalse())
			Expect(healthcheck.IsUnreachable(errors.New("boom"))).To(BeFalse())
		})
	})
})

func splitURL(raw string) (string, int) {
	u, err := url.Parse(raw)
	Expect(err).NotTo(HaveOccurred())
	port, err := strconv.Atoi(u.Port())
	Expect(err).NotTo(HaveOccurred())
	return u.Hostname(), port
}

// closedPort returns a loopback port that had a listener a moment ago.
func closedPort() int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	port := l.Addr().(*net.TCPAddr).Port
	Expect(l.Close()).To(Succeed())
	return port
}

// garbageServer answers one request with bytes that are not an HTTP response.
func garbageServer() int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(l.Close)

	go func() {
		defer GinkgoRecover()
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := http.ReadRequest(bufio.NewReader(conn)); err != nil {
			return
		}
		conn.Write([]byte("NOT-HTTP\r\n\r\n"))
	}()

	return l.Addr().(*net.TCPAddr).Port
}

// hangupServer reads one request and closes the connection without answering.
// With reset set the close sends a TCP reset instead of a FIN.
func hangupServer(reset bool) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(l.Close)

	go func() {
		defer GinkgoRecover()
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		if _, err := http.ReadRequest(bufio.NewReader(conn)); err != nil {
			return
		}
		if reset {
			conn.(*net.TCPConn).SetLinger(0)
		}
	}()

	return l.Addr().(*net.TCPAddr).Port
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
