package ssdp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gopatchy/lxnet/transport/transporttest"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		ok       bool
		notify   bool
		location string
		server   string
	}{
		{
			name:     "search response",
			data:     "HTTP/1.1 200 OK\r\nCACHE-CONTROL: max-age=100\r\nLOCATION: http://10.0.0.5:80/description.xml\r\nSERVER: Linux/3.14 UPnP/1.0 IpBridge/1.26.0\r\n\r\n",
			ok:       true,
			location: "http://10.0.0.5:80/description.xml",
			server:   "Linux/3.14 UPnP/1.0 IpBridge/1.26.0",
		},
		{
			name:     "notify lower case",
			data:     "NOTIFY * HTTP/1.1\nlocation: http://h/d.xml\nserver: thing\n",
			ok:       true,
			notify:   true,
			location: "http://h/d.xml",
			server:   "thing",
		},
		{name: "search request", data: string(BuildSearch(DefaultSearchTarget))},
		{name: "garbage", data: "\x00\x01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := ParseResponse([]byte(tt.data))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if r.Notify != tt.notify || r.Location != tt.location || r.Server != tt.server {
				t.Errorf("got %+v", r)
			}
		})
	}
}

func TestBuildSearch(t *testing.T) {
	s := string(BuildSearch("ssdp:all"))
	if !strings.HasPrefix(s, "M-SEARCH * HTTP/1.1\r\n") || !strings.Contains(s, "\r\nST: ssdp:all\r\n") || !strings.HasSuffix(s, "\r\n\r\n") {
		t.Errorf("search = %q", s)
	}
}

func descriptionServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/description.xml" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const description = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <URLBase> http://10.0.0.5:80/ </URLBase>
  <device><friendlyName>bridge</friendlyName></device>
</root>`

func TestFetchURLBase(t *testing.T) {
	srv := descriptionServer(t, description)

	base, err := FetchURLBase(context.Background(), srv.Client(), srv.URL+"/description.xml")
	if err != nil || base != "http://10.0.0.5:80/" {
		t.Fatalf("base = %q, err = %v", base, err)
	}

	if _, err := FetchURLBase(context.Background(), srv.Client(), srv.URL+"/missing"); err == nil {
		t.Error("missing description should fail")
	}

	empty := descriptionServer(t, "<root></root>")
	if _, err := FetchURLBase(context.Background(), empty.Client(), empty.URL+"/description.xml"); !errors.Is(err, ErrNoURLBase) {
		t.Errorf("err = %v", err)
	}
}

func TestDiscovererRun(t *testing.T) {
	srv := descriptionServer(t, description)
	conn := transporttest.New("10.0.0.10:1900")

	var found []string
	d := NewDiscoverer(conn, "IpBridge", func(base string) { found = append(found, base) })
	d.Client = srv.Client()
	d.idle = time.Millisecond

	conn.Deliver([]byte("HTTP/1.1 200 OK\r\nLOCATION: "+srv.URL+"/description.xml\r\nSERVER: other\r\n\r\n"), "10.0.0.4:1900")
	conn.Deliver([]byte("HTTP/1.1 200 OK\r\nLOCATION: "+srv.URL+"/description.xml\r\nSERVER: Linux UPnP/1.0 IpBridge/1.26\r\n\r\n"), "10.0.0.5:1900")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(found) != 1 || found[0] != "http://10.0.0.5:80/" {
		t.Errorf("found = %v", found)
	}

	sent := conn.Sent()
	if len(sent) != 1 || !sent[0].Addr.IP.Equal(Group.IP) || sent[0].Addr.Port != Port {
		t.Fatalf("searches = %v", sent)
	}
	if !strings.HasPrefix(string(sent[0].Data), "M-SEARCH") {
		t.Errorf("search = %q", sent[0].Data)
	}
}

func TestDiscovererStopsOnCancel(t *testing.T) {
	conn := transporttest.New("10.0.0.10:1900")
	d := NewDiscoverer(conn, "IpBridge", nil)
	d.idle = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v", err)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		elapsed, want time.Duration
	}{
		{0, time.Second},
		{250 * time.Millisecond, 750 * time.Millisecond},
		{time.Second, 0},
		{3 * time.Second, 0},
	}
	for _, tt := range tests {
		if got := backoff(time.Second, tt.elapsed); got != tt.want {
			t.Errorf("backoff(1s, %s) = %s, want %s", tt.elapsed, got, tt.want)
		}
	}
}
