package camera

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"kikimimi/internal/process"
)

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device  string   `json:"device"`  // デバイスパス
	Name    string   `json:"name"`    // デバイス名
	Driver  string   `json:"driver"`  // ドライバー名
	Formats []string `json:"formats"` // サポートされるフォーマット
}

// HasColor はカラー映像のフォーマットを持つかを返す
func (i *DeviceInfo) HasColor() bool {
	for _, f := range i.Formats {
		if f == "YUYV" || f == "MJPG" {
			return true
		}
	}
	return false
}

const v4l2Timeout = 5 * time.Second

var (
	deviceNumberPattern = regexp.MustCompile(`video(\d+)`)
	formatPattern       = regexp.MustCompile(`'([0-9A-Z]{4})'`)
)

// LinuxDiscovery は /dev/video* と v4l2-ctl を使ってカメラを検出する
type LinuxDiscovery struct {
	spawner process.Spawner
	glob    string
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery(spawner process.Spawner) *LinuxDiscovery {
	return &LinuxDiscovery{spawner: spawner, glob: "/dev/video*"}
}

// ScanDevices はデバイス番号順にカメラを列挙する
// 同じカメラの複数チャンネルは番号の小さいものだけを返す
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(d.glob)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}
	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	seen := make(map[string]bool)
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !d.IsDeviceAvailable(ctx, match) {
			continue
		}

		info, err := d.GetDeviceInfo(ctx, match)
		if err != nil {
			// v4l2-ctl が使えない環境ではそのまま候補にする
			devices = append(devices, match)
			continue
		}
		if len(info.Formats) > 0 && !info.HasColor() {
			// メタデータやグレースケールのみのチャンネル
			continue
		}
		if seen[info.Name] {
			continue
		}
		seen[info.Name] = true
		devices = append(devices, match)
	}

	return devices, nil
}

// IsDeviceAvailable はデバイスファイルが存在し読み取り可能かをチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !devicePattern.MatchString(device) {
		return false
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// GetDeviceInfo は v4l2-ctl からデバイス名・ドライバー・フォーマットを取得する
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if !devicePattern.MatchString(device) {
		return nil, fmt.Errorf("デバイスパスが不正です: %s", device)
	}

	out, err := d.v4l2ctl(ctx, device, "--info")
	if err != nil {
		return nil, fmt.Errorf("デバイス情報の取得に失敗: %w", err)
	}
	fields := parseInfo(out)

	info := &DeviceInfo{
		Device: device,
		Name:   fields["Card type"],
		Driver: fields["Driver name"],
	}
	if info.Name == "" {
		info.Name = fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
	}

	if out, err := d.v4l2ctl(ctx, device, "--list-formats-ext"); err == nil {
		info.Formats = parseFormats(out)
	}

	return info, nil
}

func (d *LinuxDiscovery) v4l2ctl(ctx context.Context, device, flag string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, v4l2Timeout)
	defer cancel()

	var stdout bytes.Buffer
	p, err := d.spawner.Spawn(ctx, process.Command{
		Name:   "v4l2-ctl",
		Args:   []string{"--device", device, flag},
		Stdout: &stdout,
	})
	if err != nil {
		return "", err
	}
	if st := p.Wait(); !st.Success() {
		return "", fmt.Errorf("v4l2-ctl が異常終了しました (code=%d)", st.Code)
	}
	return stdout.String(), nil
}

// parseInfo は "キー : 値" 形式の行を取り出す
// 最初に現れたキーを優先する
func parseInfo(output string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, exists := fields[key]; exists || key == "" {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	return fields
}

// parseFormats は --list-formats-ext の出力からピクセルフォーマットを取り出す
func parseFormats(output string) []string {
	var formats []string
	seen := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[") {
			continue
		}
		m := formatPattern.FindStringSubmatch(line)
		if len(m) < 2 || seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		formats = append(formats, m[1])
	}
	return formats
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	m := deviceNumberPattern.FindStringSubmatch(device)
	if len(m) < 2 {
		return 0
	}
	num, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return num
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	devices []string
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
func NewMockDiscovery(devices ...string) *MockDiscovery {
	return &MockDiscovery{devices: devices}
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	return append([]string(nil), m.devices...), nil
}

// IsDeviceAvailable はモックデバイスが登録済みかを返す
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	for _, d := range m.devices {
		if d == device {
			return true
		}
	}
	return false
}

// GetDeviceInfo はモックデバイス情報を返す
func (m *MockDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if !m.IsDeviceAvailable(ctx, device) {
		return nil, fmt.Errorf("デバイスが見つかりません: %s", device)
	}
	return &DeviceInfo{
		Device:  device,
		Name:    fmt.Sprintf("テストカメラ %d", extractDeviceNumber(device)),
		Driver:  "mock",
		Formats: []string{"MJPG"},
	}, nil
}
