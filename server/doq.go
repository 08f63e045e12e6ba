package server

import (
	"context"
	"crypto/tls"
	"io"
	"log"

	"github.com/quic-go/quic-go"

	"github.com/kvastad/znsd/query"
)

// doqALPN is the ALPN token DNS-over-QUIC clients negotiate (RFC 9250).
const doqALPN = "doq"

// ServeDoQ runs an optional DNS-over-QUIC listener alongside the UDP/TCP
// listeners, as a self-contained alternate transport next to do53/do53tcp.
func ServeDoQ(ctx context.Context, addr string, tlsConf *tls.Config, engine *query.Engine) error {
	tlsConf = tlsConf.Clone()
	tlsConf.NextProtos = []string{doqALPN}

	ln, err := quic.ListenAddr(addr, tlsConf, nil)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go handleDoQConn(ctx, conn, engine)
	}
}

func handleDoQConn(ctx context.Context, conn quic.Connection, engine *query.Engine) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		go handleDoQStream(stream, engine)
	}
}

func handleDoQStream(stream quic.Stream, engine *query.Engine) {
	defer stream.Close()
	var lenBuf [2]byte
	if _, err := io.ReadFull(stream, lenBuf[:]); err != nil {
		return
	}
	msgLen := int(lenBuf[0])<<8 | int(lenBuf[1])
	req := make([]byte, msgLen)
	if _, err := io.ReadFull(stream, req); err != nil {
		return
	}
	resp := engine.Handle(req, query.TransportStream)
	out := append([]byte{byte(len(resp) >> 8), byte(len(resp))}, resp...)
	if _, err := stream.Write(out); err != nil {
		log.Printf("server: doq write: %v", err)
	}
}
