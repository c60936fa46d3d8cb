package utils

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// 订单ID格式: {价格整数}_{B|S}_{毫秒时间戳*1000+序号}
// 价格整数 = 价格 * 10^小数位，保证同一价格位生成的ID前缀一致，
// 末尾序号保证同一毫秒内的唯一性（幂等键在首次网络请求前生成）。

var orderIDSeq int64

// GenerateOrderID 生成客户端订单ID（幂等键）
func GenerateOrderID(price float64, side string, decimals int) string {
	priceInt := int64(math.Round(price * math.Pow10(decimals)))

	sideTag := "B"
	if strings.ToUpper(side) == "SELL" {
		sideTag = "S"
	}

	seq := atomic.AddInt64(&orderIDSeq, 1) % 1000
	stamp := time.Now().UnixMilli()*1000 + seq

	return fmt.Sprintf("%d_%s_%d", priceInt, sideTag, stamp)
}

// ParseOrderID 解析客户端订单ID，返回价格、方向、毫秒时间戳
func ParseOrderID(clientOrderID string, decimals int) (price float64, side string, timestamp int64, valid bool) {
	parts := strings.Split(clientOrderID, "_")
	if len(parts) != 3 {
		return 0, "", 0, false
	}

	priceInt, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", 0, false
	}
	price = float64(priceInt) / math.Pow10(decimals)

	switch parts[1] {
	case "B":
		side = "BUY"
	case "S":
		side = "SELL"
	default:
		return 0, "", 0, false
	}

	stamp, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, "", 0, false
	}
	timestamp = stamp / 1000

	return price, side, timestamp, true
}
