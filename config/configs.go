package config

import (
	"encoding/xml"
	"fmt"
	"os"
)

var MainRouter string
var MapsDir string
var Download string
var ReferenceDir string
var ReportDir string
var EmbedURL string
var MainConfig Config

type Config struct {
	XMLName      xml.Name `xml:"config"`
	MainRouter   string   `xml:"MainRouter"`
	MapsDir      string   `xml:"MapsDir"`
	Download     string   `xml:"download"`
	ReferenceDir string   `xml:"ReferenceDir"`
	ReportDir    string   `xml:"ReportDir"`
	EmbedURL     string   `xml:"EmbedURL"`

	ImageSize          int     `xml:"ImageSize"`
	PaddingRatio       float64 `xml:"PaddingRatio"`
	TopNMatches        int     `xml:"TopNMatches"`
	IoUTolerance       float64 `xml:"IoUTolerance"`
	HausdorffTolerance float64 `xml:"HausdorffTolerance"`

	GeometricThreshold   float64 `xml:"GeometricThreshold"`
	DeepFeatureThreshold float64 `xml:"DeepFeatureThreshold"`

	TranslationSteps  int `xml:"TranslationSteps"`
	TranslationStride int `xml:"TranslationStride"`
	MaxTransforms     int `xml:"MaxTransforms"`
	MaxBoundaryPoints int `xml:"MaxBoundaryPoints"`
	Workers           int `xml:"Workers"`

	CompareTimeoutSec int `xml:"CompareTimeoutSec"`
}

func init() {
	xmlFile, err := os.Open("config.xml")
	if err != nil {
		fmt.Println("Error  opening  file:", err)
	} else {
		defer xmlFile.Close()
		xmlDecoder := xml.NewDecoder(xmlFile)
		if err = xmlDecoder.Decode(&MainConfig); err != nil {
			fmt.Println("Error  decoding  XML:", err)
		}
	}
	ApplyDefaults(&MainConfig)

	MainRouter = MainConfig.MainRouter
	MapsDir = MainConfig.MapsDir
	Download = MainConfig.Download
	ReferenceDir = MainConfig.ReferenceDir
	ReportDir = MainConfig.ReportDir
	EmbedURL = MainConfig.EmbedURL
}

// ApplyDefaults fills unset fields with the values the matcher was tuned
// against. Acceptance thresholds stay configuration, never constants at the
// call sites.
func ApplyDefaults(c *Config) {
	if c.MainRouter == "" {
		c.MainRouter = "0.0.0.0:5000"
	}
	if c.MapsDir == "" {
		c.MapsDir = "maps"
	}
	if c.Download == "" {
		c.Download = "OutFile"
	}
	if c.ReferenceDir == "" {
		c.ReferenceDir = "img_reference"
	}
	if c.ReportDir == "" {
		c.ReportDir = "pdf_reports"
	}
	if c.EmbedURL == "" {
		c.EmbedURL = "http://localhost:5002"
	}
	if c.ImageSize == 0 {
		c.ImageSize = 500
	}
	if c.PaddingRatio == 0 {
		c.PaddingRatio = 0.05
	}
	if c.TopNMatches == 0 {
		c.TopNMatches = 5
	}
	if c.IoUTolerance == 0 {
		c.IoUTolerance = 0.01
	}
	if c.HausdorffTolerance == 0 {
		c.HausdorffTolerance = 2.0
	}
	if c.GeometricThreshold == 0 {
		c.GeometricThreshold = 0.50
	}
	if c.DeepFeatureThreshold == 0 {
		c.DeepFeatureThreshold = 0.80
	}
	if c.TranslationStride == 0 {
		c.TranslationStride = 5
	}
	if c.MaxTransforms == 0 {
		c.MaxTransforms = 64
	}
	if c.MaxBoundaryPoints == 0 {
		c.MaxBoundaryPoints = 256
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	if c.CompareTimeoutSec == 0 {
		c.CompareTimeoutSec = 120
	}
}
