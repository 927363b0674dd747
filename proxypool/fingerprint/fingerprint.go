package fingerprint

import (
	"fmt"
	"math/rand/v2"
	"sort"

	utls "github.com/refraction-networking/utls"
)

// Fingerprint 描述一个客户端指纹：TLS ClientHello 形态以及与之匹配的 User-Agent。
type Fingerprint struct {
	Name      string
	HelloID   utls.ClientHelloID
	UserAgent string
}

// Default 是解析本机公网 IP 和探测代理时使用的固定指纹。
const Default = "chrome120"

const (
	uaChromeWin   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36"
	uaChromeMac   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36"
	uaEdgeWin     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%s Safari/537.36 Edg/%s"
	uaFirefoxWin  = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:%s) Gecko/20100101 Firefox/%s"
	uaSafariMac   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%s Safari/605.1.15"
	uaSafariIOS14 = "Mozilla/5.0 (iPhone; CPU iPhone OS 14_6 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/14.1.1 Mobile/15E148 Safari/604.1"
)

var catalog = map[string]Fingerprint{
	"chrome100":  {Name: "chrome100", HelloID: utls.HelloChrome_100, UserAgent: fmt.Sprintf(uaChromeWin, "100.0.4896.127")},
	"chrome102":  {Name: "chrome102", HelloID: utls.HelloChrome_102, UserAgent: fmt.Sprintf(uaChromeWin, "102.0.5005.115")},
	"chrome106":  {Name: "chrome106", HelloID: utls.HelloChrome_106_Shuffle, UserAgent: fmt.Sprintf(uaChromeMac, "106.0.5249.119")},
	"chrome120":  {Name: "chrome120", HelloID: utls.HelloChrome_120, UserAgent: fmt.Sprintf(uaChromeWin, "120.0.0.0")},
	"edge85":     {Name: "edge85", HelloID: utls.HelloEdge_85, UserAgent: fmt.Sprintf(uaEdgeWin, "85.0.4183.102", "85.0.564.51")},
	"edge106":    {Name: "edge106", HelloID: utls.HelloEdge_106, UserAgent: fmt.Sprintf(uaEdgeWin, "106.0.0.0", "106.0.1370.47")},
	"firefox102": {Name: "firefox102", HelloID: utls.HelloFirefox_102, UserAgent: fmt.Sprintf(uaFirefoxWin, "102.0", "102.0")},
	"firefox105": {Name: "firefox105", HelloID: utls.HelloFirefox_105, UserAgent: fmt.Sprintf(uaFirefoxWin, "105.0", "105.0")},
	"firefox120": {Name: "firefox120", HelloID: utls.HelloFirefox_120, UserAgent: fmt.Sprintf(uaFirefoxWin, "120.0", "120.0")},
	"safari16":   {Name: "safari16", HelloID: utls.HelloSafari_16_0, UserAgent: fmt.Sprintf(uaSafariMac, "16.0")},
	"ios14":      {Name: "ios14", HelloID: utls.HelloIOS_14, UserAgent: uaSafariIOS14},
}

// Names 返回目录中所有指纹名称（已排序）。
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup 按名称查找指纹。
func Lookup(name string) (Fingerprint, bool) {
	fp, ok := catalog[name]
	return fp, ok
}

// MustLookup is Lookup for names known at compile time.
func MustLookup(name string) Fingerprint {
	fp, ok := catalog[name]
	if !ok {
		panic("fingerprint: unknown name " + name)
	}
	return fp
}

// Picker 为每个请求选择一个指纹。分发器通过它注入选择策略，测试中可以替换为确定性的实现。
type Picker func() Fingerprint

// Random 返回一个在给定名称（为空时为整个目录）中均匀随机选择的 Picker。
func Random(names ...string) Picker {
	if len(names) == 0 {
		names = Names()
	}
	pool := make([]Fingerprint, 0, len(names))
	for _, n := range names {
		if fp, ok := catalog[n]; ok {
			pool = append(pool, fp)
		}
	}
	if len(pool) == 0 {
		return Fixed(Default)
	}
	return func() Fingerprint {
		return pool[rand.IntN(len(pool))]
	}
}

// Fixed 总是返回同一个指纹；未知名称回退到 Default。
func Fixed(name string) Picker {
	fp, ok := catalog[name]
	if !ok {
		fp = catalog[Default]
	}
	return func() Fingerprint {
		return fp
	}
}
