// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

/*
genopolish polishes a draft genome assembly against a set of long-read
alignments: chunked POA consensus, optional homopolymer run-length
re-estimation, and optional diploid bubble-graph phasing.
*/

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/genopolish/align"
	"github.com/grailbio/genopolish/bamio"
	"github.com/grailbio/genopolish/chunk"
	"github.com/grailbio/genopolish/output"
	"github.com/grailbio/genopolish/params"
	"github.com/grailbio/genopolish/pipeline"
	"github.com/grailbio/genopolish/refmap"
)

var (
	indexPath     = flag.String("index", "", "Alignment index path. Defaults to alignmentpath + .bai")
	region        = flag.String("region", "", "Restrict polishing to <contig>[:<1-based first pos>-<last pos>], <contig>:<1-based pos>, or just <contig>")
	overrideDepth = flag.Int("override-depth", 0, "Override the parameter document's maxDepth; 0 means use the document's value")
	diploid       = flag.Bool("diploid", false, "Run diploid phasing; overrides the parameter document's diploid field when set")
	workers       = flag.Int("workers", 0, "Override the parameter document's worker count; 0 means use the document's value")
	outPrefix     = flag.String("out", "genopolish-out", "Output path prefix: <prefix>.fa in haploid mode, <prefix>.h1.fa/<prefix>.h2.fa in diploid mode")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS] <alignment> <reference> <params>\n", os.Args[0])
	fmt.Fprintf(os.Stderr, "Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	shutdown := grail.Init()
	defer shutdown()
	flag.Parse()

	args := flag.Args()
	if len(args) != 3 {
		log.Fatalf("expected exactly 3 positional arguments (<alignment> <reference> <params>), got %d", len(args))
	}
	alignmentPath, referencePath, paramsPath := args[0], args[1], args[2]

	doc, err := params.Load(paramsPath)
	if err != nil {
		log.Fatalf("loading parameter document: %v", err)
	}

	refFile, err := os.Open(referencePath)
	if err != nil {
		log.Fatalf("opening reference: %v", err)
	}
	defer refFile.Close()
	ref, err := refmap.New(refFile)
	if err != nil {
		log.Fatalf("parsing reference: %v", err)
	}

	idx, err := align.OpenIndex(bamio.Open, alignmentPath, *indexPath)
	if err != nil {
		if err == align.ErrNotIndexed {
			log.Fatalf("%s is not indexed", alignmentPath)
		}
		log.Fatalf("opening alignment index: %v", err)
	}
	defer idx.Close()

	var reg *chunk.Region
	if *region != "" {
		reg, err = chunk.ParseRegion(*region)
		if err != nil {
			log.Fatalf("%v", err)
		}
	}

	opts := pipeline.Options{
		Region:        reg,
		Diploid:       doc.Diploid || *diploid,
		OverrideDepth: *overrideDepth,
	}
	if *workers > 0 {
		doc.Workers = *workers
	}

	results, err := pipeline.Run(idx, ref, doc, opts)
	if err != nil {
		log.Fatalf("polishing: %v", err)
	}

	if err := output.WriteFASTA(*outPrefix, results, opts.Diploid); err != nil {
		log.Fatalf("writing output: %v", err)
	}
	log.Printf("wrote %d contigs to %s", len(results), *outPrefix)
}
