package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"strings"

	"googlemaps.github.io/maps"
)

// commandRunner runs a tool and returns its stdout.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%s not found: %w", name, err)
	}
	return exec.CommandContext(ctx, path, args...).Output()
}

// radioScanner collects the WiFi and cellular observations sent with a
// network positioning request, through NetworkManager and ModemManager.
type radioScanner struct {
	run        commandRunner
	modemIndex int
}

func newRadioScanner(modemIndex int) radioScanner {
	return radioScanner{run: execRunner, modemIndex: modemIndex}
}

// Observe fills whatever radio data is available into req. Missing tools or
// radios leave the matching field empty.
func (s radioScanner) Observe(ctx context.Context, req *maps.GeolocationRequest) {
	if s.run == nil {
		return
	}
	if out, err := s.run(ctx, "nmcli", "-t", "-f", "BSSID,SIGNAL", "dev", "wifi", "list"); err == nil {
		req.WiFiAccessPoints = parseNmcliWiFi(string(out))
	}
	if out, err := s.run(ctx, "mmcli", "-m", strconv.Itoa(s.modemIndex), "--output-keyvalue"); err == nil {
		if tower, err := parseMmcliCell(string(out)); err == nil {
			req.CellTowers = []maps.CellTower{tower}
		}
	}
}

// parseNmcliWiFi reads terse nmcli output. nmcli escapes the colons inside the
// BSSID, so lines look like `AA\:BB\:CC\:DD\:EE\:FF:72`. Malformed lines are skipped.
func parseNmcliWiFi(output string) []maps.WiFiAccessPoint {
	var aps []maps.WiFiAccessPoint
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		sep := strings.LastIndex(line, ":")
		if sep <= 0 {
			continue
		}
		bssid := strings.ReplaceAll(line[:sep], `\:`, ":")
		hw, err := net.ParseMAC(bssid)
		if err != nil || len(hw) != 6 || strings.Count(bssid, ":") != 5 {
			continue
		}
		signal, err := strconv.Atoi(strings.TrimSpace(line[sep+1:]))
		if err != nil {
			continue
		}
		aps = append(aps, maps.WiFiAccessPoint{
			MACAddress:     strings.ToUpper(hw.String()),
			SignalStrength: float64(signal),
		})
	}
	return aps
}

var errIncompleteCell = errors.New("incomplete cell tower data")

// parseMmcliCell reads the serving cell from `mmcli --output-keyvalue`.
// LAC and cell id are reported in hex.
func parseMmcliCell(output string) (maps.CellTower, error) {
	var tower maps.CellTower
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "modem.3gpp.mcc":
			tower.MobileCountryCode, _ = strconv.Atoi(value)
		case "modem.3gpp.mnc":
			tower.MobileNetworkCode, _ = strconv.Atoi(value)
		case "modem.3gpp.lac":
			if v, err := strconv.ParseInt(value, 16, 32); err == nil {
				tower.LocationAreaCode = int(v)
			}
		case "modem.3gpp.cid":
			if v, err := strconv.ParseInt(value, 16, 32); err == nil {
				tower.CellID = int(v)
			}
		}
	}

	if tower.MobileCountryCode == 0 || tower.MobileNetworkCode == 0 {
		return maps.CellTower{}, errIncompleteCell
	}
	return tower, nil
}
