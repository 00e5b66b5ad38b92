package sources

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keltia/fetiche/internal/common"
	"github.com/keltia/fetiche/internal/models"
)

func avionixTestSite(addr string) *models.Site {
	return &models.Site{
		Name:    "avionix",
		Format:  "cubedata",
		BaseURL: addr,
		Auth:    models.Auth{Kind: models.AuthUserKey, APIKey: "api-key", UserKey: "user-key"},
		Routes:  map[string]string{models.RouteStream: ""},
		Features: []models.Capability{
			models.CanStream,
		},
	}
}

// readHandshake consumes the two credential lines and the start byte.
func readHandshake(t *testing.T, conn net.Conn) {
	t.Helper()
	r := bufio.NewReader(conn)
	api, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "api-key\n", api)
	user, err := r.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "user-key\n", user)
	marker := make([]byte, 1)
	_, err = r.Read(marker)
	require.NoError(t, err)
	assert.Equal(t, byte(0x02), marker[0])
}

func TestAvionixStreamWithOneDisconnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var accepts atomic.Int32
	go func() {
		// first connection: three frames then a hard close
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepts.Add(1)
		readHandshake(t, conn)
		for _, f := range []string{"f1\n", "f2\n", "f3\n"} {
			conn.Write([]byte(f))
			time.Sleep(20 * time.Millisecond)
		}
		conn.Close()

		// second connection: two more frames, then hold
		conn, err = ln.Accept()
		if err != nil {
			return
		}
		accepts.Add(1)
		readHandshake(t, conn)
		for _, f := range []string{"f4\n", "f5\n"} {
			conn.Write([]byte(f))
			time.Sleep(20 * time.Millisecond)
		}
		time.Sleep(10 * time.Second)
		conn.Close()
	}()

	src := NewAvionix(avionixTestSite(ln.Addr().String()), common.GetLogger())

	out := make(chan string, 32)
	var col statsCollector

	err = src.Stream(context.Background(), out, "api-key", models.Since(5), col.fn())
	require.NoError(t, err)
	close(out)

	var got []string
	for f := range out {
		got = append(got, strings.TrimSpace(f))
	}
	assert.Equal(t, []string{"f1", "f2", "f3", "f4", "f5"}, got)

	s := col.snapshot()
	assert.Equal(t, uint32(5), s.Pkts)
	assert.Equal(t, uint32(1), s.Reconnect)
	assert.Equal(t, uint32(1), s.Err)
	assert.Equal(t, int32(2), accepts.Load())
}

func TestAvionixAuthenticateNeedsKey(t *testing.T) {
	site := avionixTestSite("127.0.0.1:1")
	site.Auth.APIKey = ""
	src := NewAvionix(site, common.GetLogger())

	_, err := src.Authenticate(context.Background())
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestAvionixKeywordFilterLine(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	line := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		r := bufio.NewReader(conn)
		r.ReadString('\n') // api key
		r.ReadString('\n') // user key
		l, _ := r.ReadString('\n')
		line <- l
		time.Sleep(5 * time.Second)
		conn.Close()
	}()

	src := NewAvionix(avionixTestSite(ln.Addr().String()), common.GetLogger())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out := make(chan string, 1)
	var col statsCollector
	require.NoError(t, src.Stream(ctx, out, "api-key", models.Keyword("min_altitude", "100"), col.fn()))

	assert.Equal(t, "min_altitude=100\n", <-line)
}
