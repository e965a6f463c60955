// Package redisstub runs an in-process RESP2 server implementing the subset
// of Redis used by the transcode queue and the login rate limiter.
package redisstub

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Options configures the stub.
type Options struct {
	Password string
}

// Server is a minimal Redis replacement for tests.
type Server struct {
	opts     Options
	listener net.Listener

	mu      sync.Mutex
	streams map[string]*stream
	kv      map[string]*counter
	lastID  int64
	seq     int64

	closeOnce sync.Once
	closed    chan struct{}
}

type stream struct {
	entries []entry
	groups  map[string]*group
}

type entry struct {
	id     string
	fields []string
}

type group struct {
	next int
	// pending maps entry id to its last delivery time.
	pending map[string]time.Time
}

type counter struct {
	value  int64
	expiry time.Time
}

type handler func(s *Server, w *bufio.Writer, args []string) error

var commands = map[string]handler{
	"XADD":       (*Server).xadd,
	"XLEN":       (*Server).xlen,
	"XGROUP":     (*Server).xgroup,
	"XREADGROUP": (*Server).xreadgroup,
	"XACK":       (*Server).xack,
	"XPENDING":   (*Server).xpending,
	"XAUTOCLAIM": (*Server).xautoclaim,
	"INCR":       (*Server).incr,
	"EXPIRE":     (*Server).expire,
	"TTL":        (*Server).ttl,
	"DEL":        (*Server).del,
}

// Start listens on a random loopback port.
func Start(opts Options) (*Server, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	s := &Server{
		opts:     opts,
		listener: ln,
		streams:  make(map[string]*stream),
		kv:       make(map[string]*counter),
		closed:   make(chan struct{}),
	}
	go s.serve()
	return s, nil
}

func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		_ = s.listener.Close()
	})
	return nil
}

// Pending reports the number of delivered but unacknowledged entries.
func (s *Server) Pending(streamName, groupName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[streamName]
	if !ok {
		return 0
	}
	g, ok := st.groups[groupName]
	if !ok {
		return 0
	}
	return len(g.pending)
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return
			default:
				continue
			}
		}
		go s.handleConnection(conn)
	}
}

func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	authenticated := s.opts.Password == ""
	for {
		args, err := readCommand(reader)
		if err != nil {
			return
		}
		if len(args) == 0 {
			if writeError(writer, "ERR empty command") != nil {
				return
			}
			continue
		}
		name := strings.ToUpper(args[0])
		var werr error
		switch name {
		case "HELLO":
			// Forces go-redis back onto RESP2.
			werr = writeError(writer, "ERR unknown command 'HELLO'")
		case "PING":
			werr = writeSimpleString(writer, "PONG")
		case "AUTH":
			password := args[len(args)-1]
			if len(args) < 2 || len(args) > 3 {
				werr = writeError(writer, "ERR wrong number of arguments for 'auth'")
			} else if s.opts.Password == "" || password == s.opts.Password {
				authenticated = true
				werr = writeSimpleString(writer, "OK")
			} else {
				werr = writeError(writer, "WRONGPASS invalid username-password pair")
			}
		case "SELECT", "CLIENT":
			werr = writeSimpleString(writer, "OK")
		default:
			if !authenticated {
				werr = writeError(writer, "NOAUTH Authentication required.")
				break
			}
			cmd, ok := commands[name]
			if !ok {
				werr = writeError(writer, fmt.Sprintf("ERR unknown command '%s'", args[0]))
				break
			}
			werr = cmd(s, writer, args[1:])
		}
		if werr != nil {
			return
		}
	}
}

func (s *Server) streamLocked(name string) *stream {
	st, ok := s.streams[name]
	if !ok {
		st = &stream{groups: make(map[string]*group)}
		s.streams[name] = st
	}
	return st
}

func (s *Server) nextIDLocked() string {
	ms := time.Now().UnixMilli()
	if ms <= s.lastID {
		s.seq++
	} else {
		s.lastID = ms
		s.seq = 0
	}
	return fmt.Sprintf("%d-%d", s.lastID, s.seq)
}

func (s *Server) xadd(w *bufio.Writer, args []string) error {
	if len(args) < 4 {
		return writeError(w, "ERR wrong number of arguments for 'xadd'")
	}
	name := args[0]
	rest := args[1:]
	maxLen := -1
	if strings.EqualFold(rest[0], "MAXLEN") {
		i := 1
		if i < len(rest) && (rest[i] == "~" || rest[i] == "=") {
			i++
		}
		if i >= len(rest) {
			return writeError(w, "ERR syntax error")
		}
		n, err := strconv.Atoi(rest[i])
		if err != nil {
			return writeError(w, "ERR value is not an integer or out of range")
		}
		maxLen = n
		rest = rest[i+1:]
	}
	if len(rest) < 3 || len(rest[1:])%2 != 0 {
		return writeError(w, "ERR wrong number of arguments for 'xadd'")
	}
	s.mu.Lock()
	st := s.streamLocked(name)
	id := rest[0]
	if id == "*" {
		id = s.nextIDLocked()
	}
	st.entries = append(st.entries, entry{id: id, fields: append([]string(nil), rest[1:]...)})
	if maxLen >= 0 && len(st.entries) > maxLen {
		trim := len(st.entries) - maxLen
		st.entries = st.entries[trim:]
		for _, g := range st.groups {
			g.next -= trim
			if g.next < 0 {
				g.next = 0
			}
		}
	}
	s.mu.Unlock()
	return writeBulkString(w, id)
}

func (s *Server) xlen(w *bufio.Writer, args []string) error {
	if len(args) != 1 {
		return writeError(w, "ERR wrong number of arguments for 'xlen'")
	}
	s.mu.Lock()
	n := 0
	if st, ok := s.streams[args[0]]; ok {
		n = len(st.entries)
	}
	s.mu.Unlock()
	return writeInteger(w, int64(n))
}

func (s *Server) xgroup(w *bufio.Writer, args []string) error {
	if len(args) < 4 || !strings.EqualFold(args[0], "CREATE") {
		return writeError(w, "ERR only XGROUP CREATE is supported")
	}
	name, groupName, start := args[1], args[2], args[3]
	mkstream := len(args) > 4 && strings.EqualFold(args[4], "MKSTREAM")
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[name]
	if !ok {
		if !mkstream {
			return writeError(w, "ERR The XGROUP subcommand requires the key to exist")
		}
		st = s.streamLocked(name)
	}
	if _, exists := st.groups[groupName]; exists {
		return writeError(w, "BUSYGROUP Consumer Group name already exists")
	}
	g := &group{pending: make(map[string]time.Time)}
	if start == "$" {
		g.next = len(st.entries)
	}
	st.groups[groupName] = g
	return writeSimpleString(w, "OK")
}

func (s *Server) xreadgroup(w *bufio.Writer, args []string) error {
	var (
		groupName, streamName string
		count                 = 1
		block                 = -1
	)
	for i := 0; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "GROUP":
			if i+2 >= len(args) {
				return writeError(w, "ERR syntax error")
			}
			groupName = args[i+1]
			i += 2
		case "COUNT":
			if i+1 >= len(args) {
				return writeError(w, "ERR syntax error")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return writeError(w, "ERR value is not an integer or out of range")
			}
			count = n
			i++
		case "BLOCK":
			if i+1 >= len(args) {
				return writeError(w, "ERR syntax error")
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil {
				return writeError(w, "ERR timeout is not an integer or out of range")
			}
			block = n
			i++
		case "NOACK":
		case "STREAMS":
			if i+1 >= len(args) {
				return writeError(w, "ERR syntax error")
			}
			streamName = args[i+1]
			i = len(args)
		}
	}
	if groupName == "" || streamName == "" {
		return writeError(w, "ERR syntax error")
	}
	if count <= 0 {
		count = 1
	}

	deadline := time.Now().Add(time.Duration(block) * time.Millisecond)
	for {
		records, err := s.readGroup(streamName, groupName, count)
		if err != nil {
			return writeError(w, err.Error())
		}
		if len(records) > 0 {
			return writeArray(w, []interface{}{[]interface{}{streamName, records}})
		}
		if block < 0 || (block > 0 && time.Now().After(deadline)) {
			return writeNil(w)
		}
		select {
		case <-s.closed:
			return errors.New("server closed")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func (s *Server) readGroup(streamName, groupName string, count int) ([]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[streamName]
	if !ok {
		return nil, errors.New("NOGROUP No such key or consumer group")
	}
	g, ok := st.groups[groupName]
	if !ok {
		return nil, errors.New("NOGROUP No such key or consumer group")
	}
	var records []interface{}
	for g.next < len(st.entries) && len(records) < count {
		e := st.entries[g.next]
		g.next++
		g.pending[e.id] = time.Now()
		fields := make([]interface{}, len(e.fields))
		for i, f := range e.fields {
			fields[i] = f
		}
		records = append(records, []interface{}{e.id, fields})
	}
	return records, nil
}

func (s *Server) xack(w *bufio.Writer, args []string) error {
	if len(args) < 3 {
		return writeError(w, "ERR wrong number of arguments for 'xack'")
	}
	s.mu.Lock()
	acked := 0
	if st, ok := s.streams[args[0]]; ok {
		if g, ok := st.groups[args[1]]; ok {
			for _, id := range args[2:] {
				if _, pending := g.pending[id]; pending {
					delete(g.pending, id)
					acked++
				}
			}
		}
	}
	s.mu.Unlock()
	return writeInteger(w, int64(acked))
}

// xautoclaim hands pending entries idle for at least min-idle-time to the
// caller. The start cursor is ignored and the reply always ends the scan.
func (s *Server) xautoclaim(w *bufio.Writer, args []string) error {
	if len(args) < 5 {
		return writeError(w, "ERR wrong number of arguments for 'xautoclaim'")
	}
	minIdle, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		return writeError(w, "ERR Invalid min-idle-time argument for XAUTOCLAIM")
	}
	count := 100
	if len(args) >= 7 && strings.EqualFold(args[5], "COUNT") {
		if count, err = strconv.Atoi(args[6]); err != nil || count <= 0 {
			return writeError(w, "ERR COUNT must be > 0")
		}
	}
	s.mu.Lock()
	st, ok := s.streams[args[0]]
	var g *group
	if ok {
		g, ok = st.groups[args[1]]
	}
	if !ok {
		s.mu.Unlock()
		return writeError(w, "NOGROUP No such key or consumer group")
	}
	now := time.Now()
	claimed := []interface{}{}
	for _, e := range st.entries {
		if len(claimed) >= count {
			break
		}
		delivered, pending := g.pending[e.id]
		if !pending || now.Sub(delivered) < time.Duration(minIdle)*time.Millisecond {
			continue
		}
		g.pending[e.id] = now
		fields := make([]interface{}, len(e.fields))
		for i, f := range e.fields {
			fields[i] = f
		}
		claimed = append(claimed, []interface{}{e.id, fields})
	}
	s.mu.Unlock()
	return writeArray(w, []interface{}{"0-0", claimed, []interface{}{}})
}

// xpending answers only the summary form with the pending count.
func (s *Server) xpending(w *bufio.Writer, args []string) error {
	if len(args) < 2 {
		return writeError(w, "ERR wrong number of arguments for 'xpending'")
	}
	n := s.Pending(args[0], args[1])
	return writeArray(w, []interface{}{int64(n), nil, nil, nil})
}

func (s *Server) counterLocked(key string) *counter {
	c := s.kv[key]
	if c != nil && !c.expiry.IsZero() && !time.Now().Before(c.expiry) {
		delete(s.kv, key)
		c = nil
	}
	return c
}

func (s *Server) incr(w *bufio.Writer, args []string) error {
	if len(args) != 1 {
		return writeError(w, "ERR wrong number of arguments for 'incr'")
	}
	s.mu.Lock()
	c := s.counterLocked(args[0])
	if c == nil {
		c = &counter{}
		s.kv[args[0]] = c
	}
	c.value++
	value := c.value
	s.mu.Unlock()
	return writeInteger(w, value)
}

func (s *Server) expire(w *bufio.Writer, args []string) error {
	if len(args) < 2 {
		return writeError(w, "ERR wrong number of arguments for 'expire'")
	}
	seconds, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return writeError(w, "ERR value is not an integer or out of range")
	}
	s.mu.Lock()
	c := s.counterLocked(args[0])
	if c != nil {
		c.expiry = time.Now().Add(time.Duration(seconds) * time.Second)
	}
	s.mu.Unlock()
	if c == nil {
		return writeInteger(w, 0)
	}
	return writeInteger(w, 1)
}

func (s *Server) ttl(w *bufio.Writer, args []string) error {
	if len(args) != 1 {
		return writeError(w, "ERR wrong number of arguments for 'ttl'")
	}
	s.mu.Lock()
	c := s.counterLocked(args[0])
	s.mu.Unlock()
	switch {
	case c == nil:
		return writeInteger(w, -2)
	case c.expiry.IsZero():
		return writeInteger(w, -1)
	default:
		remaining := time.Until(c.expiry)
		secs := int64((remaining + time.Second - 1) / time.Second)
		return writeInteger(w, secs)
	}
}

func (s *Server) del(w *bufio.Writer, args []string) error {
	s.mu.Lock()
	removed := 0
	for _, key := range args {
		if _, ok := s.kv[key]; ok {
			delete(s.kv, key)
			removed++
		}
		if _, ok := s.streams[key]; ok {
			delete(s.streams, key)
			removed++
		}
	}
	s.mu.Unlock()
	return writeInteger(w, int64(removed))
}

func readCommand(r *bufio.Reader) ([]string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if prefix != '*' {
		return nil, fmt.Errorf("unexpected prefix %q", prefix)
	}
	n, err := readLength(r)
	if err != nil {
		return nil, err
	}
	args := make([]string, 0, n)
	for i := 0; i < n; i++ {
		arg, err := readBulk(r)
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
	}
	return args, nil
}

func readLength(r *bufio.Reader) (int, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimRight(line, "\r\n"))
}

func readBulk(r *bufio.Reader) (string, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return "", err
	}
	if prefix != '$' {
		return "", fmt.Errorf("unexpected prefix %q", prefix)
	}
	n, err := readLength(r)
	if err != nil {
		return "", err
	}
	if n < 0 {
		return "", nil
	}
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf[:n]), nil
}

func writeSimpleString(w *bufio.Writer, value string) error {
	fmt.Fprintf(w, "+%s\r\n", value)
	return w.Flush()
}

func writeError(w *bufio.Writer, msg string) error {
	fmt.Fprintf(w, "-%s\r\n", msg)
	return w.Flush()
}

func writeInteger(w *bufio.Writer, value int64) error {
	fmt.Fprintf(w, ":%d\r\n", value)
	return w.Flush()
}

func writeBulkString(w *bufio.Writer, value string) error {
	fmt.Fprintf(w, "$%d\r\n%s\r\n", len(value), value)
	return w.Flush()
}

func writeNil(w *bufio.Writer) error {
	w.WriteString("*-1\r\n")
	return w.Flush()
}

func writeArray(w *bufio.Writer, values []interface{}) error {
	encodeArray(w, values)
	return w.Flush()
}

func encodeArray(w *bufio.Writer, values []interface{}) {
	fmt.Fprintf(w, "*%d\r\n", len(values))
	for _, value := range values {
		switch v := value.(type) {
		case nil:
			w.WriteString("$-1\r\n")
		case int64:
			fmt.Fprintf(w, ":%d\r\n", v)
		case []interface{}:
			encodeArray(w, v)
		default:
			str := fmt.Sprint(v)
			fmt.Fprintf(w, "$%d\r\n%s\r\n", len(str), str)
		}
	}
}
