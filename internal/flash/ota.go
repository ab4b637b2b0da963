package flash

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/stripd/internal/ledger"
)

type otaKind uint8

const (
	otaBegin otaKind = iota
	otaData
	otaFinish
	otaAbort
)

type otaRequest struct {
	// ctx is the caller's context; a begin whose caller gave up is discarded.
	ctx   context.Context
	kind  otaKind
	size  uint32
	chunk []byte
	reply chan otaReply
}

type otaReply struct {
	info Session
	err  error
}

// Session describes an OTA session.
type Session struct {
	ID        uuid.UUID
	Partition string
	TotalSize uint32
	Erased    uint32
	Written   uint32
}

type session struct {
	info    Session
	part    Partition
	offset  uint32
	tail    [wordSize]byte
	tailLen int
}

// BeginOTA starts a session for an image of size bytes and erases the target slot.
func (a *Actor) BeginOTA(ctx context.Context, size uint32) (Session, error) {
	return a.request(ctx, otaRequest{kind: otaBegin, size: size})
}

// WriteOTA appends one chunk of the image. The chunk is copied.
func (a *Actor) WriteOTA(ctx context.Context, chunk []byte) error {
	_, err := a.request(ctx, otaRequest{kind: otaData, chunk: append([]byte(nil), chunk...)})
	return err
}

// FinishOTA flushes the image, activates the new slot and reboots.
func (a *Actor) FinishOTA(ctx context.Context) (Session, error) {
	return a.request(ctx, otaRequest{kind: otaFinish})
}

// AbortOTA discards the session. The running firmware stays the boot target.
func (a *Actor) AbortOTA(ctx context.Context) error {
	_, err := a.request(ctx, otaRequest{kind: otaAbort})
	return err
}

func (a *Actor) request(ctx context.Context, req otaRequest) (Session, error) {
	req.ctx = ctx
	req.reply = make(chan otaReply, 1)
	select {
	case a.otaCh <- req:
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
	select {
	case rep := <-req.reply:
		return rep.info, rep.err
	case <-ctx.Done():
		return Session{}, ctx.Err()
	}
}

// runSession owns the flash until the session ends. No state or config writes are serviced meanwhile.
// The caller has already closed the persistence gate.
func (a *Actor) runSession(ctx context.Context, begin otaRequest) {
	a.otaActive.Store(true)
	a.status.Store(uint32(OTAActive))
	// Release the flash before the final reply so callers observe Idle.
	end := func() {
		a.otaActive.Store(false)
		a.status.Store(uint32(Idle))
	}
	defer end()

	s, err := a.begin(begin.size)
	if err != nil {
		log.Error().Err(err).Uint32("size", begin.size).Msg("OTA begin failed")
		a.record(ledger.EventOTAFailed, map[string]any{"stage": "begin", "error": err.Error()})
		end()
		begin.reply <- otaReply{err: err}
		return
	}
	if begin.ctx != nil && begin.ctx.Err() != nil {
		// Nobody is left to stream the image.
		a.discard(s, "caller gone")
		end()
		begin.reply <- otaReply{info: s.info, err: begin.ctx.Err()}
		return
	}
	begin.reply <- otaReply{info: s.info}

	for {
		select {
		case <-ctx.Done():
			a.discard(s, "shutdown")
			return

		case req := <-a.otaCh:
			switch req.kind {
			case otaBegin:
				req.reply <- otaReply{info: s.info, err: ErrSessionActive}

			case otaData:
				if err := s.write(req.chunk); err != nil {
					a.fail(s, err)
					end()
					req.reply <- otaReply{info: s.info, err: err}
					return
				}
				req.reply <- otaReply{info: s.info}

			case otaFinish:
				err := a.finish(s)
				end()
				req.reply <- otaReply{info: s.info, err: err}
				if err == nil && a.opts.Reboot != nil {
					a.opts.Reboot()
				}
				return

			case otaAbort:
				a.discard(s, "aborted")
				end()
				req.reply <- otaReply{info: s.info}
				return
			}
		}
	}
}

// begin resolves the target slot and erases whole sectors covering size,
// never past the end of the partition.
func (a *Actor) begin(size uint32) (*session, error) {
	if a.updater == nil {
		return nil, otaError(OTAErase, errors.New("no updater configured"))
	}
	if size == 0 {
		return nil, otaError(OTAErase, errors.New("empty image"))
	}
	part, err := a.updater.NextPartition()
	if err != nil {
		return nil, otaError(OTAErase, fmt.Errorf("failed to resolve target partition: %w", err))
	}

	sector := part.SectorSize()
	eraseLen := uint64(size+sector-1) / uint64(sector) * uint64(sector)
	if size > part.Capacity() || eraseLen > uint64(part.Capacity()) {
		eraseLen = uint64(part.Capacity())
	}
	if err := part.Erase(0, uint32(eraseLen)); err != nil {
		return nil, otaError(OTAErase, err)
	}

	s := &session{
		part: part,
		info: Session{
			ID:        uuid.New(),
			Partition: part.Label(),
			TotalSize: size,
			Erased:    uint32(eraseLen),
		},
	}
	log.Info().
		Str("session", s.info.ID.String()).
		Str("partition", s.info.Partition).
		Uint32("size", size).
		Uint32("erased", s.info.Erased).
		Msg("OTA session started")
	a.record(ledger.EventOTAStarted, map[string]any{
		"session":   s.info.ID.String(),
		"partition": s.info.Partition,
		"size":      size,
	})
	return s, nil
}

// write flushes whole words immediately and carries the unaligned tail to the next chunk.
func (s *session) write(chunk []byte) error {
	if uint64(s.info.Written)+uint64(len(chunk)) > uint64(s.info.Erased) {
		return otaError(OTAWrite, fmt.Errorf("image exceeds erased region of %d bytes", s.info.Erased))
	}
	s.info.Written += uint32(len(chunk))

	data := chunk
	if s.tailLen > 0 {
		need := wordSize - s.tailLen
		if len(data) < need {
			s.tailLen += copy(s.tail[s.tailLen:], data)
			return nil
		}
		copy(s.tail[s.tailLen:], data[:need])
		if err := s.flush(s.tail[:]); err != nil {
			return err
		}
		s.tailLen = 0
		data = data[need:]
	}

	aligned := len(data) &^ (wordSize - 1)
	if aligned > 0 {
		if err := s.flush(data[:aligned]); err != nil {
			return err
		}
	}
	s.tailLen = copy(s.tail[:], data[aligned:])
	return nil
}

func (s *session) flush(words []byte) error {
	if err := s.part.Write(s.offset, words); err != nil {
		return otaError(OTAWrite, err)
	}
	s.offset += uint32(len(words))
	return nil
}

// finish pads the tail with the erased pattern, then switches the boot slot.
func (a *Actor) finish(s *session) error {
	if s.tailLen > 0 {
		for i := s.tailLen; i < wordSize; i++ {
			s.tail[i] = 0xFF
		}
		if err := s.flush(s.tail[:]); err != nil {
			a.fail(s, err)
			return err
		}
		s.tailLen = 0
	}
	if s.info.Written < s.info.TotalSize {
		err := otaError(OTAWrite, fmt.Errorf("image truncated: %d of %d bytes", s.info.Written, s.info.TotalSize))
		a.fail(s, err)
		return err
	}
	if err := a.updater.Activate(s.part); err != nil {
		err := otaError(OTAActivate, err)
		a.fail(s, err)
		return err
	}

	log.Info().
		Str("session", s.info.ID.String()).
		Str("partition", s.info.Partition).
		Uint32("written", s.info.Written).
		Msg("OTA image activated, rebooting")
	a.record(ledger.EventOTACompleted, map[string]any{
		"session":   s.info.ID.String(),
		"partition": s.info.Partition,
		"written":   s.info.Written,
	})
	return nil
}

func (a *Actor) fail(s *session, err error) {
	log.Error().Err(err).Str("session", s.info.ID.String()).Uint32("written", s.info.Written).Msg("OTA session failed")
	payload := map[string]any{"session": s.info.ID.String(), "written": s.info.Written, "error": err.Error()}
	var oe *OTAError
	if errors.As(err, &oe) {
		payload["stage"] = oe.Kind.String()
	}
	a.record(ledger.EventOTAFailed, payload)
}

func (a *Actor) discard(s *session, reason string) {
	log.Warn().Str("session", s.info.ID.String()).Str("reason", reason).Uint32("written", s.info.Written).Msg("OTA session discarded")
	a.record(ledger.EventOTAAborted, map[string]any{
		"session": s.info.ID.String(),
		"reason":  reason,
		"written": s.info.Written,
	})
}
