// Package extract turns decoded job alert mails into postings.
//
// RuleExtractor recognizes job board links and reads titles and companies
// from anchor text, body context and common subject formats. Pipeline adds an
// optional Fallback (an external command or an LLM) that is consulted, under a
// timeout, only for postings still missing a title or company.
package extract
