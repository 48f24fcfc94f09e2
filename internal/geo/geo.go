// Package geo 提供全系统唯一的距离计算，签到、签退、定位上报和管理员补录都必须使用这里的函数
package geo

import "math"

const earthRadiusMeters = 6371000.0

type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Verdict struct {
	DistanceMeters int  `json:"distance"`
	RadiusMeters   int  `json:"radius"`
	Within         bool `json:"isOnSite"`
}

func (p Point) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// Distance 使用 haversine 公式计算两点间的球面距离，结果四舍五入到米
func Distance(a, b Point) int {
	lat1 := toRadians(a.Latitude)
	lat2 := toRadians(b.Latitude)
	dLat := lat2 - lat1
	dLon := toRadians(b.Longitude - a.Longitude)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	// 浮点误差可能让 h 略微超过 1
	h = math.Min(1, h)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return int(math.Round(earthRadiusMeters * c))
}

func Verify(position, center Point, radiusMeters int) Verdict {
	d := Distance(position, center)
	return Verdict{
		DistanceMeters: d,
		RadiusMeters:   radiusMeters,
		Within:         d <= radiusMeters,
	}
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}
