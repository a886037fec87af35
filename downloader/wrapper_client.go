package downloader

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"time"
)

// key id used for the prefetch key instead of the song's adam id
const defaultID = "0"

// WrapperClient talks to the local wrapper service that holds the
// FairPlay session: one port resolves enhanced HLS URLs, the other decrypts samples.
type WrapperClient struct {
	DeviceAddr  string
	DecryptAddr string
	Dialer      net.Dialer
}

func (wc *WrapperClient) dial(ctx context.Context, addr string) (net.Conn, func() bool, error) {
	conn, err := wc.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	// unblock pending reads and writes when ctx is cancelled
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	return conn, stop, nil
}

// EnhancedHLS asks the device for the master playlist URL of adamID.
func (wc *WrapperClient) EnhancedHLS(ctx context.Context, adamID string) (string, error) {
	conn, stop, err := wc.dial(ctx, wc.DeviceAddr)
	if err != nil {
		return "", fmt.Errorf("error connecting to device: %w", err)
	}
	defer conn.Close()
	defer stop()

	if _, err := conn.Write(append([]byte{byte(len(adamID))}, adamID...)); err != nil {
		return "", fmt.Errorf("error writing adamID to device: %w", err)
	}

	response, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(response) > 0) {
		return "", fmt.Errorf("error reading response from device: %w", ctxErr(ctx, err))
	}
	response = bytes.TrimSpace(response)
	if len(response) == 0 {
		return "", errors.New("received empty response from device")
	}
	return string(response), nil
}

// Decrypt sends every sample through the decryption service and returns the
// concatenated clear data. keys is indexed by each sample's description index.
func (wc *WrapperClient) Decrypt(ctx context.Context, info *SongInfo, keys []string, adamID string, onProgress func(done, total int64)) ([]byte, error) {
	conn, stop, err := wc.dial(ctx, wc.DecryptAddr)
	if err != nil {
		return nil, fmt.Errorf("error connecting to decryption service: %w", err)
	}
	defer conn.Close()
	defer stop()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))
	decrypted := make([]byte, 0, info.totalDataSize)
	var lastIndex uint32 = math.MaxUint8

	for _, sp := range info.samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if int(sp.descIndex) >= len(keys) {
			return nil, fmt.Errorf("no key for sample description %d", sp.descIndex)
		}

		if lastIndex != sp.descIndex {
			if len(decrypted) != 0 {
				rw.Write([]byte{0, 0, 0, 0})
			}
			keyURI := keys[sp.descIndex]
			id := adamID
			if keyURI == prefetchKey {
				id = defaultID
			}
			rw.WriteByte(byte(len(id)))
			rw.WriteString(id)
			rw.WriteByte(byte(len(keyURI)))
			rw.WriteString(keyURI)
		}
		lastIndex = sp.descIndex

		binary.Write(rw, binary.LittleEndian, uint32(len(sp.data)))
		rw.Write(sp.data)
		if err := rw.Flush(); err != nil {
			return nil, ctxErr(ctx, err)
		}

		start := len(decrypted)
		decrypted = append(decrypted, make([]byte, len(sp.data))...)
		if _, err := io.ReadFull(rw, decrypted[start:]); err != nil {
			return nil, ctxErr(ctx, err)
		}

		if onProgress != nil {
			onProgress(int64(len(decrypted)), info.totalDataSize)
		}
	}

	rw.Write([]byte{0, 0, 0, 0, 0})
	_ = rw.Flush()
	return decrypted, nil
}

// ctxErr prefers the context error over the deadline error it caused.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}
