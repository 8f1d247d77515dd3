package optical

import (
	"context"
	"os"

	"github.com/klauspost/reedsolomon"

	"github.com/blockvault/barc/internal/barerr"
)

// ECCCoder augments an ISO9660 image with Reed-Solomon error-correction
// data, so a damaged disc sector can be reconstructed from parity.
// Built on klauspost/reedsolomon, adapted here from "shard a
// stream across N nodes" to "append parity shards after the image so a
// damaged disc sector can still be reconstructed".
type ECCCoder interface {
	// Encode reads imagePath and writes imagePath+".ecc" containing the
	// image split into data shards plus parity shards.
	Encode(ctx context.Context, imagePath string) (string, error)
}

// ReedSolomonECC implements ECCCoder with a fixed data:parity shard ratio.
// 10 data shards to 2 parity shards tolerates the loss of any 2 of every
// 12 shards' worth of image data, a reasonable default for optical media
// bit-rot protection without doubling the image size.
type ReedSolomonECC struct {
	DataShards   int
	ParityShards int
}

func (c *ReedSolomonECC) shardCounts() (int, int) {
	d, p := c.DataShards, c.ParityShards
	if d <= 0 {
		d = 10
	}
	if p <= 0 {
		p = 2
	}
	return d, p
}

func (c *ReedSolomonECC) Encode(ctx context.Context, imagePath string) (string, error) {
	dataShards, parityShards := c.shardCounts()

	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return "", &barerr.CreateIso{Detail: "reedsolomon: " + err.Error()}
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", &barerr.Io{Op: "ecc-read-image", Path: imagePath, Err: err}
	}

	shards, err := enc.Split(data)
	if err != nil {
		return "", &barerr.CreateIso{Detail: "reedsolomon split: " + err.Error()}
	}
	if err := enc.Encode(shards); err != nil {
		return "", &barerr.CreateIso{Detail: "reedsolomon encode: " + err.Error()}
	}

	eccPath := imagePath + ".ecc"
	out, err := os.Create(eccPath)
	if err != nil {
		return "", &barerr.Io{Op: "ecc-create", Path: eccPath, Err: err}
	}
	defer out.Close()

	for _, shard := range shards {
		if _, err := out.Write(shard); err != nil {
			return "", &barerr.Io{Op: "ecc-write", Path: eccPath, Err: err}
		}
	}
	return eccPath, nil
}
