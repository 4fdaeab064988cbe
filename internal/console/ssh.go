package console

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"log"
	"net"

	"golang.org/x/crypto/ssh"
	"golang.org/x/term"
)

func (c *Console) handleChannel(newChannel ssh.NewChannel) {
	if t := newChannel.ChannelType(); t != "session" {
		_ = newChannel.Reject(ssh.UnknownChannelType, fmt.Sprintf("unknown channel type: %s", t))
		return
	}

	conn, requests, err := newChannel.Accept()

	if err != nil {
		log.Printf("error accepting channel, %v", err)
		return
	}

	t := term.NewTerminal(conn, "")

	go func() {
		defer conn.Close()

		if err := c.session(t); err != nil {
			log.Printf("session error: %v", err)
		}

		log.Printf("closing ssh connection")
	}()

	go serveRequests(t, requests)
}

// ptySize extracts the terminal width and height from a pty-req payload
// (RFC4254 6.2): string TERM, then uint32 columns and rows.
func ptySize(payload []byte) (w, h int, ok bool) {
	if len(payload) < 4 {
		return 0, 0, false
	}

	n := binary.BigEndian.Uint32(payload)
	if uint64(len(payload)) < 4+uint64(n)+8 {
		return 0, 0, false
	}

	return windowSize(payload[4+n:])
}

// windowSize extracts columns and rows from a window-change payload
// (RFC4254 6.7).
func windowSize(payload []byte) (w, h int, ok bool) {
	if len(payload) < 8 {
		return 0, 0, false
	}
	return int(binary.BigEndian.Uint32(payload)), int(binary.BigEndian.Uint32(payload[4:])), true
}

func serveRequests(t *term.Terminal, requests <-chan *ssh.Request) {
	for req := range requests {
		ok := false

		switch req.Type {
		case "shell":
			// interactive only, no command payload
			ok = len(req.Payload) == 0
		case "pty-req", "window-change":
			parse := windowSize
			if req.Type == "pty-req" {
				parse = ptySize
			}

			w, h, valid := parse(req.Payload)
			if !valid {
				log.Printf("malformed %s request", req.Type)
				break
			}
			_ = t.SetSize(w, h)
			ok = true
		}

		if req.WantReply {
			_ = req.Reply(ok, nil)
		}
	}
}

func (c *Console) handleChannels(chans <-chan ssh.NewChannel) {
	for newChannel := range chans {
		go c.handleChannel(newChannel)
	}
}

func (c *Console) listen(listener net.Listener, srv *ssh.ServerConfig) {
	for {
		conn, err := listener.Accept()

		if errors.Is(err, net.ErrClosed) {
			return
		}

		if err != nil {
			log.Printf("error accepting connection, %v", err)
			continue
		}

		sshConn, chans, reqs, err := ssh.NewServerConn(conn, srv)

		if err != nil {
			log.Printf("error accepting handshake, %v", err)
			continue
		}

		log.Printf("new ssh connection from %s (%s)", sshConn.RemoteAddr(), sshConn.ClientVersion())

		go ssh.DiscardRequests(reqs)
		go c.handleChannels(chans)
	}
}

// StartSSH serves the console on listener with a freshly generated host key
// and no client authentication, until the listener is closed. It returns the
// host key.
func (c *Console) StartSSH(listener net.Listener) (ssh.PublicKey, error) {
	srv := &ssh.ServerConfig{
		NoClientAuth: true,
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	if err != nil {
		return nil, fmt.Errorf("private key generation error: %w", err)
	}

	signer, err := ssh.NewSignerFromKey(key)

	if err != nil {
		return nil, fmt.Errorf("key conversion error: %w", err)
	}

	log.Printf("starting ssh server (%s)", ssh.FingerprintSHA256(signer.PublicKey()))

	srv.AddHostKey(signer)

	go c.listen(listener, srv)

	return signer.PublicKey(), nil
}
