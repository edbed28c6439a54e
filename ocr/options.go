package ocr

import (
	"strconv"
	"strings"
)

// WithLanguages passes trained-data hints to engines that use them, joined
// in tesseract's "eng+ara" form.
func WithLanguages(langs ...string) RequestOption {
	return func(req *Request) {
		if len(langs) == 0 {
			return
		}
		if req.Metadata == nil {
			req.Metadata = make(map[string]string)
		}
		req.Metadata["languages"] = strings.Join(langs, "+")
	}
}

// WithTesseractPSM sets the page segmentation mode (PSM) variable for Tesseract.
// See https://tesseract-ocr.github.io/tessdoc/ImproveQuality.html#page-segmentation-method for values.
func WithTesseractPSM(mode int) RequestOption {
	return func(req *Request) {
		if req.Metadata == nil {
			req.Metadata = make(map[string]string)
		}
		req.Metadata["tessedit_pageseg_mode"] = strconv.Itoa(mode)
	}
}

// WithTesseractWhitelist restricts recognition to the provided characters.
func WithTesseractWhitelist(chars string) RequestOption {
	return func(req *Request) {
		if req.Metadata == nil {
			req.Metadata = make(map[string]string)
		}
		req.Metadata["tessedit_char_whitelist"] = chars
	}
}
