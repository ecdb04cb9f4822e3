package stream

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"animarr/internal/domain"
	"animarr/internal/lazy"
	"animarr/internal/request"
	"animarr/internal/state"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	reMp4Code = regexp.MustCompile(`(?s)<div id="player"><script type='text/javascript'>eval\(function\(p,a,c,k,e,d\)\{.+?\}\('(.+?)',(\d+),\d+,'([\w|]+)'`)
	reMp4Data = regexp.MustCompile(`(?s)"file":\s*"(.+?)",\s*"image":\s*"(.+?)",`)
)

const baseNumerals = "0123456789abcdefghijklmnopqrstuvwxyz"

func baseN(num, radix int) string {
	if num == 0 {
		return baseNumerals[:1]
	}

	var digits []byte
	for num > 0 {
		digits = append([]byte{baseNumerals[num%radix]}, digits...)
		num /= radix
	}
	return string(digits)
}

// unpack reverses the p,a,c,k,e,d packer by substituting every token
// with its entry from the encoding map, highest index first.
func unpack(code string, radix int, encodingMap []string) string {
	for i := len(encodingMap) - 1; i >= 0; i-- {
		if encodingMap[i] == "" {
			continue
		}

		re, err := regexp.Compile(`\b` + baseN(i, radix) + `\b`)
		if err != nil {
			continue
		}
		code = re.ReplaceAllString(code, encodingMap[i])
	}
	return code
}

type mp4UploadData struct {
	video  string
	poster string
}

func extractMp4UploadData(text string) (mp4UploadData, bool) {
	match := reMp4Code.FindStringSubmatch(text)
	if match == nil {
		return mp4UploadData{}, false
	}

	radix, err := strconv.Atoi(match[2])
	if err != nil || radix < 2 || radix > len(baseNumerals) {
		return mp4UploadData{}, false
	}

	unpacked := unpack(match[1], radix, strings.Split(match[3], "|"))

	data := reMp4Data.FindStringSubmatch(unpacked)
	if data == nil {
		return mp4UploadData{}, false
	}

	return mp4UploadData{video: data[1], poster: data[2]}, true
}

// Mp4Upload unpacks the obfuscated player setup mp4upload embeds its
// file urls in.
type Mp4Upload struct {
	base

	player lazy.Slot[mp4UploadData]
}

func newMp4Upload(req *request.Request) domain.Stream {
	m := &Mp4Upload{base: newBase("Mp4Upload", defaultPriority, req)}
	m.init(m)
	m.OnExpire(m.player.Reset)
	return m
}

func (m *Mp4Upload) playerData(ctx context.Context) (mp4UploadData, error) {
	return m.player.Get(ctx, func(ctx context.Context) (mp4UploadData, error) {
		text, err := m.Request().Text(ctx)
		if err != nil {
			return mp4UploadData{}, err
		}

		data, _ := extractMp4UploadData(text)
		return data, nil
	})
}

func (m *Mp4Upload) fetchExternal(ctx context.Context) (bool, error) {
	return true, nil
}

func (m *Mp4Upload) fetchLinks(ctx context.Context) ([]string, error) {
	data, err := m.playerData(ctx)
	if err != nil {
		return nil, err
	}

	if data.video != "" && request.New(data.video).HeadSuccess(ctx) {
		return []string{data.video}, nil
	}
	return nil, nil
}

func (m *Mp4Upload) fetchPoster(ctx context.Context) (string, error) {
	data, err := m.playerData(ctx)
	if err != nil {
		return "", err
	}

	if data.poster != "" && request.New(data.poster).HeadSuccess(ctx) {
		return data.poster, nil
	}
	return "", nil
}

func init() {
	register(Factory{
		Name:     "Mp4Upload",
		Priority: defaultPriority,
		CanHandle: func(ctx context.Context, req *request.Request) bool {
			return hostMatches(ctx, req, "mp4upload.com")
		},
		New: newMp4Upload,
		Load: func(doc bson.M) (domain.Stream, error) {
			req, err := state.ReviveRequest(doc)
			if err != nil {
				return nil, err
			}

			m := newMp4Upload(req).(*Mp4Upload)
			m.prime(doc)
			return m, nil
		},
	})
}
