package codec

/*
#cgo pkg-config: opus
#include <opus.h>

static int jam_encoder_set_vbr(OpusEncoder *st, opus_int32 vbr)
{
	return opus_encoder_ctl(st, OPUS_SET_VBR(vbr));
}

static int jam_encoder_get_vbr(OpusEncoder *st, opus_int32 *vbr)
{
	return opus_encoder_ctl(st, OPUS_GET_VBR(vbr));
}

static int jam_encoder_set_bitrate(OpusEncoder *st, opus_int32 bitrate)
{
	return opus_encoder_ctl(st, OPUS_SET_BITRATE(bitrate));
}

static int jam_encoder_set_complexity(OpusEncoder *st, opus_int32 complexity)
{
	return opus_encoder_ctl(st, OPUS_SET_COMPLEXITY(complexity));
}

static int jam_encoder_set_packet_loss_perc(OpusEncoder *st, opus_int32 loss)
{
	return opus_encoder_ctl(st, OPUS_SET_PACKET_LOSS_PERC(loss));
}

static int jam_encoder_set_max_bandwidth(OpusEncoder *st, opus_int32 bw)
{
	return opus_encoder_ctl(st, OPUS_SET_MAX_BANDWIDTH(bw));
}

static int jam_encoder_reset_state(OpusEncoder *st)
{
	return opus_encoder_ctl(st, OPUS_RESET_STATE);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	"gopkg.in/hraban/opus.v2"
)

// cbrEncoder is a libopus encoder driven directly. The binding's Encoder has
// no variable bitrate control, and constant bitrate is what makes every
// packet exactly the configured size.
type cbrEncoder struct {
	p        *C.OpusEncoder
	channels int
	// mem holds the encoder state on the Go heap, so nothing needs freeing.
	mem []byte
}

func newCBREncoder(sampleRate, channels int) (*cbrEncoder, error) {
	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("channel count %d is not 1 or 2", channels)
	}
	size := C.opus_encoder_get_size(C.int(channels))
	e := &cbrEncoder{channels: channels, mem: make([]byte, size)}
	e.p = (*C.OpusEncoder)(unsafe.Pointer(&e.mem[0]))
	code := C.opus_encoder_init(e.p, C.opus_int32(sampleRate), C.int(channels),
		C.OPUS_APPLICATION_RESTRICTED_LOWDELAY)
	if code != C.OPUS_OK {
		return nil, opus.Error(code)
	}
	return e, nil
}

func ctlError(name string, code C.int) error {
	if code != C.OPUS_OK {
		return fmt.Errorf("%s: %w", name, opus.Error(code))
	}
	return nil
}

func (e *cbrEncoder) setVBR(on bool) error {
	var v C.opus_int32
	if on {
		v = 1
	}
	return ctlError("set vbr", C.jam_encoder_set_vbr(e.p, v))
}

func (e *cbrEncoder) vbr() (bool, error) {
	var v C.opus_int32
	if err := ctlError("get vbr", C.jam_encoder_get_vbr(e.p, &v)); err != nil {
		return false, err
	}
	return v != 0, nil
}

func (e *cbrEncoder) setBitrate(bitrate int) error {
	return ctlError("set bitrate", C.jam_encoder_set_bitrate(e.p, C.opus_int32(bitrate)))
}

func (e *cbrEncoder) setComplexity(complexity int) error {
	return ctlError("set complexity", C.jam_encoder_set_complexity(e.p, C.opus_int32(complexity)))
}

func (e *cbrEncoder) setPacketLossPerc(percent int) error {
	return ctlError("set packet loss", C.jam_encoder_set_packet_loss_perc(e.p, C.opus_int32(percent)))
}

func (e *cbrEncoder) setMaxBandwidth(bw opus.Bandwidth) error {
	return ctlError("set max bandwidth", C.jam_encoder_set_max_bandwidth(e.p, C.opus_int32(bw)))
}

// reset clears the predictive state. Controls set earlier are kept.
func (e *cbrEncoder) reset() error {
	return ctlError("reset state", C.jam_encoder_reset_state(e.p))
}

// encode codes one frame of interleaved pcm into data. With variable bitrate
// off libopus pads the packet to the bitrate's byte count, capped at
// len(data).
func (e *cbrEncoder) encode(pcm []int16, data []byte) (int, error) {
	if len(pcm) == 0 || len(pcm)%e.channels != 0 {
		return 0, fmt.Errorf("pcm length %d is not a whole number of frames", len(pcm))
	}
	if len(data) == 0 {
		return 0, fmt.Errorf("no room for the encoded frame")
	}
	n := C.opus_encode(
		e.p,
		(*C.opus_int16)(&pcm[0]),
		C.int(len(pcm)/e.channels),
		(*C.uchar)(&data[0]),
		C.opus_int32(len(data)))
	if n < 0 {
		return 0, opus.Error(n)
	}
	return int(n), nil
}
