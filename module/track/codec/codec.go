package codec

import (
	"encoding/binary"
	"math"
	"time"

	"GProject/module/track/model"
	"GProject/tools/errs"
)

// 轨迹点压缩格式：5 个 4 字节 IEEE-754 float32，小端，共 20 字节。
// 字段顺序固定：[lat, lng, source_ts(epoch 秒), speed, heading]。
// 有意丢弃 accuracy/altitude/device_id/source，压缩缓存中每点的占用；
// 全字段数据仍可从落库侧查询。
const BlockSize = 20

// Encode packs a point into its fixed 20-byte cache representation.
func Encode(p *model.LocationPoint) []byte {
	buf := make([]byte, BlockSize)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(float32(p.Latitude)))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(float32(p.Longitude)))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(float32(p.SourceTS.Unix())))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(float32(p.Speed)))
	binary.LittleEndian.PutUint32(buf[16:20], math.Float32bits(float32(p.Heading)))
	return buf
}

// Decode unpacks a 20-byte block. Blocks of any other length are rejected.
func Decode(entityID string, b []byte) (*model.LocationPoint, error) {
	if len(b) != BlockSize {
		return nil, errs.ErrMalformedRecord.WrapMsg("unexpected block size")
	}
	lat := math.Float32frombits(binary.LittleEndian.Uint32(b[0:4]))
	lng := math.Float32frombits(binary.LittleEndian.Uint32(b[4:8]))
	ts := math.Float32frombits(binary.LittleEndian.Uint32(b[8:12]))
	speed := math.Float32frombits(binary.LittleEndian.Uint32(b[12:16]))
	heading := math.Float32frombits(binary.LittleEndian.Uint32(b[16:20]))

	return &model.LocationPoint{
		EntityID:  entityID,
		Latitude:  float64(lat),
		Longitude: float64(lng),
		SourceTS:  time.Unix(int64(ts), 0).UTC(),
		Speed:     float64(speed),
		Heading:   float64(heading),
	}, nil
}
